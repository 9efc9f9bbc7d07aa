package pointcloud

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/ndtmap/logging"
	"go.viam.com/ndtmap/spatialmath"
)

func testScan() PointCloud {
	return NewFromPoints(
		r3.Vector{X: 1.5, Y: -2.25, Z: 0.125},
		r3.Vector{X: 4, Y: 0, Z: -1},
		r3.Vector{X: 4, Y: 0, Z: -1},
		r3.Vector{X: -3.75, Y: 8.5, Z: 2},
	)
}

func pointsOf(pc PointCloud) []r3.Vector {
	var out []r3.Vector
	pc.Iterate(0, 0, func(p r3.Vector) bool {
		out = append(out, p)
		return true
	})
	return out
}

func TestPCDRoundTrip(t *testing.T) {
	viewpoint := spatialmath.NewPose(r3.Vector{X: 1, Y: 2, Z: 3}, &spatialmath.EulerAngles{Yaw: math.Pi / 4})
	for _, typ := range []PCDType{PCDAscii, PCDBinary} {
		var buf bytes.Buffer
		test.That(t, ToPCD(testScan(), viewpoint, &buf, typ), test.ShouldBeNil)

		pc, vp, err := ReadPCDWithViewpoint(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pc.Size(), test.ShouldEqual, 4)
		for i, p := range pointsOf(pc) {
			test.That(t, spatialmath.R3VectorAlmostEqual(p, pointsOf(testScan())[i], 1e-5), test.ShouldBeTrue)
		}
		test.That(t, spatialmath.PoseAlmostEqualEps(vp, viewpoint, 1e-5), test.ShouldBeTrue)
	}
}

func TestReadPCDExtraFields(t *testing.T) {
	in := strings.Join([]string{
		"# .PCD v0.7 - Point Cloud Data file format",
		"VERSION 0.7",
		"FIELDS x y z intensity",
		"SIZE 4 4 4 4",
		"TYPE F F F F",
		"COUNT 1 1 1 1",
		"WIDTH 2",
		"HEIGHT 1",
		"VIEWPOINT 0 0 0 1 0 0 0",
		"POINTS 2",
		"DATA ascii",
		"0.5 1 1.5 10",
		"2 3 4 12",
	}, "\n")
	pc, err := ReadPCD(strings.NewReader(in))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pointsOf(pc), test.ShouldResemble, []r3.Vector{{X: 0.5, Y: 1, Z: 1.5}, {X: 2, Y: 3, Z: 4}})
}

func TestReadPCDErrors(t *testing.T) {
	header := func(fields, data string) string {
		return "VERSION .7\nFIELDS " + fields + "\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n" +
			"WIDTH 1\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 1\nDATA " + data + "\n"
	}

	_, err := ReadPCD(strings.NewReader(header("x y w", "ascii") + "1 2 3\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "missing one of x y z")

	_, err = ReadPCD(strings.NewReader(header("x y z", "binary_compressed")))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ReadPCD(strings.NewReader(header("x y z", "binary") + "abc"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ReadPCD(strings.NewReader("VERSION .7\nFIELDS x y z\n"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ReadPCD(strings.NewReader(header("x y z", "ascii") + "1 2\n"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewFromFile(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()

	lasPath := filepath.Join(dir, "scan.las")
	test.That(t, WriteToLASFile(testScan(), lasPath), test.ShouldBeNil)
	pc, pose, err := NewFromFile(lasPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 4)
	test.That(t, spatialmath.PoseAlmostEqual(pose, spatialmath.NewZeroPose()), test.ShouldBeTrue)
	for i, p := range pointsOf(pc) {
		test.That(t, spatialmath.R3VectorAlmostEqual(p, pointsOf(testScan())[i], 1e-2), test.ShouldBeTrue)
	}

	pcdPath := filepath.Join(dir, "scan.pcd")
	var buf bytes.Buffer
	viewpoint := spatialmath.NewPoseFromPoint(r3.Vector{Z: 1.5})
	test.That(t, ToPCD(testScan(), viewpoint, &buf, PCDBinary), test.ShouldBeNil)
	test.That(t, os.WriteFile(pcdPath, buf.Bytes(), 0o600), test.ShouldBeNil)
	pc, pose, err = NewFromFile(pcdPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 4)
	test.That(t, spatialmath.PoseAlmostEqualEps(pose, viewpoint, 1e-5), test.ShouldBeTrue)

	_, _, err = NewFromFile(filepath.Join(dir, "scan.xyz"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}
