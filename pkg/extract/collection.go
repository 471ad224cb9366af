package extract

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/paulmach/orb/geojson"

	"github.com/matzehuels/tilecraft/pkg/feature"
)

// collectionWriter streams features into a GeoJSON FeatureCollection file
// without holding the collection in memory.
type collectionWriter struct {
	f *os.File
	w *bufio.Writer
	n int
}

func createCollection(path string) (*collectionWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	c := &collectionWriter{f: f, w: bufio.NewWriterSize(f, 256<<10)}
	if _, err := c.w.WriteString(`{"type":"FeatureCollection","features":[`); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *collectionWriter) write(feat *feature.Feature) error {
	gf := geojson.NewFeature(feat.Geometry)
	gf.ID = fmt.Sprintf("%s/%d", feat.Type, feat.ID)
	gf.Properties = feat.Properties()

	data, err := json.Marshal(gf)
	if err != nil {
		return err
	}
	sep := ",\n"
	if c.n == 0 {
		sep = "\n"
	}
	if _, err := c.w.WriteString(sep); err != nil {
		return err
	}
	if _, err := c.w.Write(data); err != nil {
		return err
	}
	c.n++
	return nil
}

func (c *collectionWriter) Close() error {
	if _, err := c.w.WriteString("\n]}\n"); err != nil {
		c.f.Close()
		return err
	}
	if err := c.w.Flush(); err != nil {
		c.f.Close()
		return err
	}
	if err := c.f.Sync(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}

// abort closes the file without finishing the document.
func (c *collectionWriter) abort() {
	c.f.Close()
}

// ValidateCollection reads a FeatureCollection file feature by feature and
// returns the number of features. Every feature must carry a geometry.
func ValidateCollection(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return validateCollection(bufio.NewReader(f))
}

func validateCollection(r io.Reader) (int, error) {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return 0, err
	}

	n := 0
	sawType := false
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return n, err
		}
		switch tok {
		case "type":
			var typ string
			if err := dec.Decode(&typ); err != nil {
				return n, err
			}
			if typ != "FeatureCollection" {
				return n, fmt.Errorf("type %q, want FeatureCollection", typ)
			}
			sawType = true
		case "features":
			if err := expectDelim(dec, '['); err != nil {
				return n, err
			}
			for dec.More() {
				var gf geojson.Feature
				if err := dec.Decode(&gf); err != nil {
					return n, fmt.Errorf("feature %d: %w", n, err)
				}
				if gf.Geometry == nil {
					return n, fmt.Errorf("feature %d: missing geometry", n)
				}
				n++
			}
			if err := expectDelim(dec, ']'); err != nil {
				return n, err
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return n, err
			}
		}
	}
	if !sawType {
		return n, fmt.Errorf("missing type member")
	}
	return n, expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("unexpected token %v, want %v", tok, want)
	}
	return nil
}
