package persist

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sumatoshi-tech/polystats/pkg/stats"
)

// ErrUnsupportedExtension is returned for output paths no codec handles.
var ErrUnsupportedExtension = errors.New("unsupported report extension")

// Format describes how a path is written.
type Format struct {
	Codec       Codec
	Compression Compression
}

// FormatForPath selects the codec from the path extension. Supported:
// .xml, .json, .yaml and .yml, each optionally followed by .lz4, .zst or
// .sz. Call it before computing so a bad path fails early.
func FormatForPath(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))

	compression, compressed := compressionForExtension(ext)
	if compressed {
		ext = strings.ToLower(filepath.Ext(strings.TrimSuffix(path, filepath.Ext(path))))
	}

	var codec Codec

	switch ext {
	case xmlExtension:
		codec = NewXMLCodec()
	case jsonExtension:
		codec = NewJSONCodec()
	case yamlExtension, ymlExtension:
		codec = NewYAMLCodec()
	default:
		return Format{}, fmt.Errorf("%w: %q", ErrUnsupportedExtension, path)
	}

	return Format{Codec: codec, Compression: compression}, nil
}

// reportFileMode is the permission of written reports; temp files start at 0600.
const reportFileMode = 0o644

// SaveReport writes report to path. The file is written next to its final
// location and renamed into place, so a failed write leaves no output.
func SaveReport(path string, report *Report) error {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}

	tmpName := tmp.Name()

	err = writeReport(tmp, format, normalize(report))
	closeErr := tmp.Close()

	if err == nil && closeErr != nil {
		err = fmt.Errorf("close report file: %w", closeErr)
	}

	if err == nil {
		err = os.Chmod(tmpName, reportFileMode)
	}

	if err == nil {
		err = os.Rename(tmpName, path)
	}

	if err != nil {
		_ = os.Remove(tmpName)

		return err
	}

	return nil
}

// LoadReport reads a report written by SaveReport.
func LoadReport(path string) (*Report, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report file: %w", err)
	}
	defer file.Close()

	r, release, err := format.Compression.reader(file)
	if err != nil {
		return nil, err
	}
	defer release()

	report := &Report{}

	err = format.Codec.Decode(r, report)
	if err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}

	return normalize(report), nil
}

func writeReport(w io.Writer, format Format, report *Report) error {
	zw, err := format.Compression.writer(w)
	if err != nil {
		return err
	}

	err = encodeReport(zw, format.Codec, report)
	if err != nil {
		return err
	}

	err = zw.Close()
	if err != nil {
		return fmt.Errorf("close %s stream: %w", format.Compression, err)
	}

	return nil
}

func encodeReport(w io.Writer, codec Codec, report *Report) error {
	err := codec.Encode(w, report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	return nil
}

func normalize(r *Report) *Report {
	if r.SamplesPerClass == nil {
		r.SamplesPerClass = map[uint32]stats.Summary{}
	}

	if r.SamplesPerVector == nil {
		r.SamplesPerVector = map[uint32]stats.Summary{}
	}

	return r
}
