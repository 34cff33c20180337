package pointcloud

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// pcdHeaderFields are the PCD header keywords accepted by ReadPCD.
var pcdHeaderFields = map[string]bool{
	"VERSION": true, "FIELDS": true, "SIZE": true, "TYPE": true,
	"COUNT": true, "WIDTH": true, "HEIGHT": true, "VIEWPOINT": true,
	"POINTS": true, "DATA": true,
}

// ReadPCD reads an ASCII PCD formatted cloud from r.
// Only the x, y, z fields are consumed; additional per-point fields are
// ignored.
func ReadPCD(r io.Reader) (Cloud, error) {
	scanner := bufio.NewScanner(r)

	var cloud Cloud
	headerDone := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tokens := strings.Fields(line)
		if !headerDone {
			if pcdHeaderFields[tokens[0]] {
				if tokens[0] == "DATA" {
					if len(tokens) != 2 || tokens[1] != "ascii" {
						return nil, errors.Errorf("unsupported PCD data format: %v", line)
					}
					headerDone = true
				}
				continue
			}
			return nil, errors.Errorf("invalid PCD header line: %v", line)
		}

		if len(tokens) < 3 {
			return nil, errors.Errorf("invalid PCD point line: %v", line)
		}

		var pt r3.Vector
		var err error
		if pt.X, err = strconv.ParseFloat(tokens[0], 64); err != nil {
			return nil, errors.Wrap(err, "failed to parse point")
		}
		if pt.Y, err = strconv.ParseFloat(tokens[1], 64); err != nil {
			return nil, errors.Wrap(err, "failed to parse point")
		}
		if pt.Z, err = strconv.ParseFloat(tokens[2], 64); err != nil {
			return nil, errors.Wrap(err, "failed to parse point")
		}
		cloud = append(cloud, pt)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read PCD")
	}
	if !headerDone {
		return nil, errors.New("missing PCD header")
	}

	return cloud, nil
}

// WritePCD writes cloud to w in ASCII PCD format with x, y, z fields.
func WritePCD(w io.Writer, cloud Cloud) error {
	bw := bufio.NewWriter(w)

	header := fmt.Sprintf(`VERSION .7
FIELDS x y z
SIZE 4 4 4
TYPE F F F
COUNT 1 1 1
WIDTH %d
HEIGHT 1
VIEWPOINT 0 0 0 1 0 0 0
POINTS %d
DATA ascii
`, len(cloud), len(cloud))

	if _, err := bw.WriteString(header); err != nil {
		return errors.Wrap(err, "failed to write PCD header")
	}
	for _, pt := range cloud {
		if _, err := fmt.Fprintf(bw, "%f %f %f\n", pt.X, pt.Y, pt.Z); err != nil {
			return errors.Wrap(err, "failed to write PCD point")
		}
	}

	return errors.Wrap(bw.Flush(), "failed to flush PCD")
}
