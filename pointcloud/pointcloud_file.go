package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/ndtmap/logging"
	"go.viam.com/ndtmap/spatialmath"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

// NewFromFile returns a scan read in from the given file along with the pose of the sensor that
// took it. Formats without a recorded viewpoint report the zero pose.
func NewFromFile(fn string, logger logging.Logger) (PointCloud, spatialmath.Pose, error) {
	switch filepath.Ext(fn) {
	case ".las":
		pc, err := NewFromLASFile(fn, logger)
		return pc, spatialmath.NewZeroPose(), err
	case ".pcd":
		//nolint:gosec
		f, err := os.Open(fn)
		if err != nil {
			return nil, nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return ReadPCDWithViewpoint(f)
	default:
		return nil, nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// NewFromLASFile returns a point cloud from reading a LAS file. If any
// lossiness of points could occur from reading it in, it's reported but is not
// an error.
func NewFromLASFile(fn string, logger logging.Logger) (PointCloud, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", fn)
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	pc := NewWithPrealloc(lf.Header.NumberPoints)
	lossy := 0
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := p.PointData()

		v := r3.Vector{X: data.X, Y: data.Y, Z: data.Z}
		if !preciseFloat(v.X) || !preciseFloat(v.Y) || !preciseFloat(v.Z) {
			lossy++
		}
		pc.Append(v)
	}
	if lossy > 0 {
		logger.Warnw("potential floating point lossiness for LAS points",
			"file", fn, "count", lossy, "range", fmt.Sprintf("[%f,%f]", minPreciseFloat64, maxPreciseFloat64))
	}
	return pc, nil
}

// WriteToLASFile writes the point cloud out to a LAS file.
func WriteToLASFile(cloud PointCloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	if err = lf.AddHeader(lidario.LasHeader{PointFormatID: 0}); err != nil {
		return
	}

	cloud.Iterate(0, 0, func(pos r3.Vector) bool {
		pr0 := &lidario.PointRecord0{
			X: pos.X,
			Y: pos.Y,
			Z: pos.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3),
			},
			PointSourceID: 1,
		}
		if lerr := lf.AddLasPoint(pr0); lerr != nil {
			err = lerr
			return false
		}
		return true
	})
	return err
}

// ToPCD writes the cloud as a pcd file taken from the given sensor pose. A nil pose writes the
// identity viewpoint.
func ToPCD(cloud PointCloud, viewpoint spatialmath.Pose, out io.Writer, outputType PCDType) error {
	if viewpoint == nil {
		viewpoint = spatialmath.NewZeroPose()
	}
	pt := viewpoint.Point()
	q := viewpoint.Orientation().Quaternion()

	if _, err := fmt.Fprintf(out, "VERSION .7\n"+
		"FIELDS x y z\n"+
		"SIZE 4 4 4\n"+
		"TYPE F F F\n"+
		"COUNT 1 1 1\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT %g %g %g %g %g %g %g\n"+
		"POINTS %d\n",
		cloud.Size(),
		pt.X, pt.Y, pt.Z, q.Real, q.Imag, q.Jmag, q.Kmag,
		cloud.Size(),
	); err != nil {
		return err
	}

	switch outputType {
	case PCDBinary:
		if _, err := fmt.Fprintf(out, "DATA binary\n"); err != nil {
			return err
		}
	case PCDAscii:
		if _, err := fmt.Fprintf(out, "DATA ascii\n"); err != nil {
			return err
		}
	default:
		return errors.Errorf("unsupported pcd output type %d", outputType)
	}

	var err error
	buf := make([]byte, 12)
	cloud.Iterate(0, 0, func(pos r3.Vector) bool {
		switch outputType {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(pos.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(pos.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(pos.Z)))
			_, err = out.Write(buf)
		default:
			_, err = fmt.Fprintf(out, "%f %f %f\n", pos.X, pos.Y, pos.Z)
		}
		return err == nil
	})
	return err
}

type pcdHeader struct {
	fields    []string
	size      []int
	typ       []string
	width     uint64
	height    uint64
	viewpoint spatialmath.Pose
	points    uint64
	data      PCDType

	xyz [3]int
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		header.fields = tokens
		header.xyz = [3]int{-1, -1, -1}
		for i, f := range tokens {
			switch f {
			case "x":
				header.xyz[0] = i
			case "y":
				header.xyz[1] = i
			case "z":
				header.xyz[2] = i
			}
		}
		if header.xyz[0] < 0 || header.xyz[1] < 0 || header.xyz[2] < 0 {
			return errors.Errorf("pcd fields %q are missing one of x y z", value)
		}
	case "SIZE":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]int, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.Atoi(token)
			if err != nil {
				return errors.Errorf("invalid SIZE field %s", token)
			}
		}
	case "TYPE":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in TYPE line")
		}
		header.typ = tokens
		for _, i := range header.xyz {
			if header.typ[i] != "F" || (header.size[i] != 4 && header.size[i] != 8) {
				return errors.Errorf("coordinate field %s must be a 4 or 8 byte float", header.fields[i])
			}
		}
	case "COUNT":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in COUNT line")
		}
		for _, token := range tokens {
			if token != "1" {
				return errors.Errorf("unsupported COUNT field %s", token)
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
		viewpoint := [7]float64{}
		for i, token := range tokens {
			viewpoint[i], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid VIEWPOINT field %s", token)
			}
		}
		header.viewpoint = spatialmath.NewPose(
			r3.Vector{X: viewpoint[0], Y: viewpoint[1], Z: viewpoint[2]},
			spatialmath.NewQuaternion(quat.Number{Real: viewpoint[3], Imag: viewpoint[4], Jmag: viewpoint[5], Kmag: viewpoint[6]}),
		)
	case "POINTS":
		header.points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unknown pcd data type %q", value)
		}
	}

	return nil
}

// ReadPCD reads the x y z coordinates of an ascii or binary pcd file. Other fields are skipped.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	pc, _, err := ReadPCDWithViewpoint(inRaw)
	return pc, err
}

// ReadPCDWithViewpoint is ReadPCD that also returns the VIEWPOINT the scan was taken from.
func ReadPCDWithViewpoint(inRaw io.Reader) (PointCloud, spatialmath.Pose, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, nil, err
		}
		headerLineCount++
	}

	var (
		pc  PointCloud
		err error
	)
	switch header.data {
	case PCDAscii:
		pc, err = readPCDAscii(in, header)
	case PCDBinary:
		pc, err = readPCDBinary(in, header)
	default:
		return nil, nil, errors.New("compressed pcd not yet supported")
	}
	if err != nil {
		return nil, nil, err
	}
	return pc, header.viewpoint, nil
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != len(header.fields) {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		var xyz [3]float64
		for axis, field := range header.xyz {
			xyz[axis], err = strconv.ParseFloat(tokens[field], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid point %d field %s", i, tokens[field])
			}
		}
		pc.Append(r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]})
	}
	return pc, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	stride := 0
	offsets := make([]int, len(header.size))
	for i, s := range header.size {
		offsets[i] = stride
		stride += s
	}

	pc := NewWithPrealloc(int(header.points))
	buf := make([]byte, stride)
	for i := 0; i < int(header.points); i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		var xyz [3]float64
		for axis, field := range header.xyz {
			raw := buf[offsets[field] : offsets[field]+header.size[field]]
			if header.size[field] == 8 {
				xyz[axis] = math.Float64frombits(binary.LittleEndian.Uint64(raw))
			} else {
				xyz[axis] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
			}
		}
		pc.Append(r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]})
	}
	return pc, nil
}
