// Package labels reads the per-image label files a detection run leaves
// behind: one object per line, class ID first, then the normalised box and
// an optional confidence.
package labels

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"detectweb/internal/domain"
)

type Mode int

const (
	// Prefix matches a line whose text starts with a class string, so
	// "670 ..." counts for class "67".
	Prefix Mode = iota
	// Exact matches only when the first token equals a class string.
	Exact
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "prefix":
		return Prefix, nil
	case "exact":
		return Exact, nil
	}
	return Prefix, fmt.Errorf("unknown match mode %q", s)
}

type Matcher struct {
	Classes []string
	Mode    Mode
}

func (m Matcher) Match(line string) bool {
	if m.Mode == Exact {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return false
		}
		for _, c := range m.Classes {
			if fields[0] == c {
				return true
			}
		}
		return false
	}

	for _, c := range m.Classes {
		if strings.HasPrefix(line, c) {
			return true
		}
	}
	return false
}

func Count(r io.Reader, m Matcher) (int, error) {
	count := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if m.Match(scanner.Text()) {
			count++
		}
	}
	return count, scanner.Err()
}

// CountFile counts matching lines in path. A missing file counts as zero.
func CountFile(path string, m Matcher) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	return Count(f, m)
}

// Parse decodes label lines, skipping the ones that are not well formed.
func Parse(r io.Reader) ([]domain.Detection, error) {
	var out []domain.Detection
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		det, ok := parseLine(scanner.Text())
		if ok {
			out = append(out, det)
		}
	}
	return out, scanner.Err()
}

func ParseFile(path string) ([]domain.Detection, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}

func parseLine(line string) (domain.Detection, bool) {
	fields := strings.Fields(line)
	if len(fields) != 5 && len(fields) != 6 {
		return domain.Detection{}, false
	}

	classID, err := strconv.Atoi(fields[0])
	if err != nil {
		return domain.Detection{}, false
	}

	det := domain.Detection{ClassID: classID}
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return domain.Detection{}, false
		}
		det.Box[i] = v
	}

	if len(fields) == 6 {
		conf, err := strconv.ParseFloat(fields[5], 64)
		if err != nil {
			return domain.Detection{}, false
		}
		det.Confidence = conf
	}

	return det, true
}

// Format renders a detection the way Parse reads it back.
func Format(d domain.Detection) string {
	return fmt.Sprintf("%d %.6f %.6f %.6f %.6f %.6f",
		d.ClassID, d.Box[0], d.Box[1], d.Box[2], d.Box[3], d.Confidence)
}
