package gridmap

import (
	"fmt"
	"io"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"go.viam.com/utils"

	"go.viam.com/ndtmap/logging"
	"go.viam.com/ndtmap/ndt"
	"go.viam.com/ndtmap/spatialmath"
	"go.viam.com/ndtmap/storage"
)

// OriginConfig is the pose of the map frame in the world, in metres and radians.
type OriginConfig struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Pose returns the origin as a pose.
func (o OriginConfig) Pose() spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: o.X, Y: o.Y, Z: o.Z},
		&spatialmath.EulerAngles{Roll: o.Roll, Pitch: o.Pitch, Yaw: o.Yaw},
	)
}

// ModelConfig describes an inverse sensor model.
type ModelConfig struct {
	Prior    float64 `json:"prior"`
	Free     float64 `json:"free"`
	Occupied float64 `json:"occupied"`
}

// Validate ensures the model probabilities are usable.
func (c *ModelConfig) Validate(path string) error {
	if _, err := ndt.NewInverseModel(c.Prior, c.Free, c.Occupied); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Model returns the inverse sensor model c describes.
func (c *ModelConfig) Model() (*ndt.InverseModel, error) {
	return ndt.NewInverseModel(c.Prior, c.Free, c.Occupied)
}

// DefaultSensorModel is used when a config does not name a sensor model.
var DefaultSensorModel = ModelConfig{Prior: 0.5, Free: 0.45, Occupied: 0.65}

// DefaultVisibilityModel is used when a config does not name a visibility model.
//
// Under DefaultSensorModel every bundle that has never been observed scales the visibility of a
// ray crossing it by 0.5*0.05 + 0.5*0.999, about 0.52. On a fresh map a volumetric ray therefore
// drops below the 1e-6 prior after 21 bundles: it carves at most 21 bundles and fuses its end
// only when that lies within the first 20 bundles after the sensor's, about 10 resolutions
// away. Raise Prior towards 0 or Free towards Occupied for longer first scans, or seed the map
// with Insert.
var DefaultVisibilityModel = ModelConfig{Prior: 1e-6, Free: 0.05, Occupied: 0.999}

// Config describes a map.
type Config struct {
	Name            string       `json:"name,omitempty"`
	Resolution      float64      `json:"resolution"`
	Dimensions      int          `json:"dimensions,omitempty"`
	Origin          OriginConfig `json:"origin"`
	Backend         string       `json:"backend,omitempty"`
	ArrayMin        []int        `json:"array_min,omitempty"`
	ArrayMax        []int        `json:"array_max,omitempty"`
	SensorModel     *ModelConfig `json:"sensor_model,omitempty"`
	VisibilityModel *ModelConfig `json:"visibility_model,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Resolution == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "resolution")
	}
	if cfg.Resolution < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("resolution must be positive, got %v", cfg.Resolution))
	}
	if cfg.Dimensions != 0 && cfg.Dimensions != 2 && cfg.Dimensions != 3 {
		return utils.NewConfigValidationError(path, errors.Errorf("dimensions must be 2 or 3, got %d", cfg.Dimensions))
	}
	backend, err := storage.ParseBackend(cfg.Backend)
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if backend == storage.BackendArray {
		if len(cfg.ArrayMin) == 0 {
			return utils.NewConfigValidationFieldRequiredError(path, "array_min")
		}
		if len(cfg.ArrayMax) == 0 {
			return utils.NewConfigValidationFieldRequiredError(path, "array_max")
		}
		if _, _, err := cfg.arrayBounds(); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	if cfg.SensorModel != nil {
		if err := cfg.SensorModel.Validate(fmt.Sprintf("%s.%s", path, "sensor_model")); err != nil {
			return err
		}
	}
	if cfg.VisibilityModel != nil {
		if err := cfg.VisibilityModel.Validate(fmt.Sprintf("%s.%s", path, "visibility_model")); err != nil {
			return err
		}
	}
	return nil
}

func (cfg *Config) dimensions() int {
	if cfg.Dimensions == 0 {
		return 3
	}
	return cfg.Dimensions
}

func (cfg *Config) arrayBounds() (storage.Index, storage.Index, error) {
	dims := cfg.dimensions()
	var lo, hi storage.Index
	if len(cfg.ArrayMin) != dims || len(cfg.ArrayMax) != dims {
		return lo, hi, errors.Errorf("array_min and array_max need %d components", dims)
	}
	for k := 0; k < dims; k++ {
		lo[k], hi[k] = cfg.ArrayMin[k], cfg.ArrayMax[k]
		if hi[k] < lo[k] {
			return lo, hi, errors.Errorf("array_max %v is below array_min %v", cfg.ArrayMax, cfg.ArrayMin)
		}
	}
	return lo, hi, nil
}

// Options returns the map options cfg describes.
func (cfg *Config) Options() (Options, error) {
	backend, err := storage.ParseBackend(cfg.Backend)
	if err != nil {
		return Options{}, err
	}
	opts := Options{Dimensions: cfg.dimensions(), Backend: backend}
	if backend == storage.BackendArray {
		if opts.BundleMin, opts.BundleMax, err = cfg.arrayBounds(); err != nil {
			return Options{}, err
		}
	}
	return opts, nil
}

// Models returns the sensor and visibility models, falling back to the defaults.
func (cfg *Config) Models() (*ndt.InverseModel, *ndt.InverseModel, error) {
	sensor, visibility := DefaultSensorModel, DefaultVisibilityModel
	if cfg.SensorModel != nil {
		sensor = *cfg.SensorModel
	}
	if cfg.VisibilityModel != nil {
		visibility = *cfg.VisibilityModel
	}
	sensorModel, err := sensor.Model()
	if err != nil {
		return nil, nil, errors.Wrap(err, "sensor model")
	}
	visibilityModel, err := visibility.Model()
	if err != nil {
		return nil, nil, errors.Wrap(err, "visibility model")
	}
	return sensorModel, visibilityModel, nil
}

// ConfigFromAttributes decodes a config from a generic attribute map.
func ConfigFromAttributes(attributes map[string]interface{}) (*Config, error) {
	var conf Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: &conf, WeaklyTypedInput: true})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, err
	}
	return &conf, nil
}

// ReadConfig reads and validates a JSON config.
func ReadConfig(r io.Reader) (*Config, error) {
	var attributes map[string]interface{}
	if err := json.NewDecoder(r).Decode(&attributes); err != nil {
		return nil, errors.Wrap(err, "cannot parse map config")
	}
	cfg, err := ConfigFromAttributes(attributes)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate("map"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadConfigFile reads and validates a JSON config file.
func ReadConfigFile(path string) (cfg *Config, err error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return ReadConfig(f)
}

// NewOccupancyGridmapFromConfig returns an empty map described by cfg. The logger is named
// after the config when it has a name.
func NewOccupancyGridmapFromConfig(cfg *Config, logger logging.Logger) (*OccupancyGridmap, error) {
	if err := cfg.Validate("map"); err != nil {
		return nil, err
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	if cfg.Name != "" {
		logger = logger.Named(cfg.Name)
	}
	return NewOccupancyGridmapWithOptions(cfg.Origin.Pose(), cfg.Resolution, opts, logger)
}
