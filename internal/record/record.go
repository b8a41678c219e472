// Package record implements the wire codec for measurement lines and epoch
// directives stored inside a commit's performance-notes blob.
package record

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gitperf/gitperf/pkg/alg/mapx"
)

// epochMarker is the reserved first field of an epoch directive line, and a
// reserved measurement name: "0" can never name a measurement.
const epochMarker = "0"

// epochDirectiveFields is the field count of a well-formed epoch directive.
const epochDirectiveFields = 3

// Measurement is one immutable performance sample attached to a commit.
type Measurement struct {
	Name      string
	Value     float64
	Timestamp int64
	Selectors map[string]string
}

// Clone returns a value-semantic copy of m; Selectors is deep-copied.
func (m Measurement) Clone() Measurement {
	m.Selectors = mapx.Clone(m.Selectors)

	return m
}

// Warning describes one wire-format line that was dropped during decode
// without aborting the rest of the batch.
type Warning struct {
	Line   string
	Reason string
}

// DecodeResult is the output of decoding one note blob.
type DecodeResult struct {
	// Measurements is ordered by blob line order, epoch-filtered.
	Measurements []Measurement
	// Epochs maps measurement name to its effective epoch within this blob.
	Epochs map[string]uint32
	// Warnings records malformed lines that were silently dropped.
	Warnings []Warning
}

// taggedRecord is a decoded record together with the epoch that governed it
// (the value of the most recent preceding epoch directive for its name, or 0
// if none appeared).
type taggedRecord struct {
	m     Measurement
	epoch uint32
}

// Decode parses a note blob into its surviving measurements, the blob's
// effective epoch per name, and any non-fatal parse warnings.
//
// Two passes over the blob are required: the first finds, for each name, the
// maximum epoch directive value appearing anywhere in the blob (the
// "effective" epoch); the second re-scans in order, tagging each record with
// the governing epoch in force at the line where it appears (the most recent
// preceding directive for that name), then drops records whose governing
// epoch is strictly less than the name's effective epoch.
func Decode(blob string) DecodeResult {
	lines := strings.Split(blob, "\n")

	effective := effectiveEpochs(lines)

	var (
		tagged   []taggedRecord
		warnings []Warning
		current  = make(map[string]uint32)
	)

	for _, line := range lines {
		fields := splitFields(line)
		if len(fields) == 0 {
			continue
		}

		if fields[0] == epochMarker {
			if name, epoch, ok := parseEpochDirective(fields); ok {
				current[name] = epoch

				continue
			}
		}

		m, warn, ok := parseRecord(fields)
		if !ok {
			warnings = append(warnings, Warning{Line: line, Reason: warn})

			continue
		}

		tagged = append(tagged, taggedRecord{m: m, epoch: current[m.Name]})
	}

	measurements := make([]Measurement, 0, len(tagged))

	for _, t := range tagged {
		if t.epoch < effective[t.m.Name] {
			continue
		}

		measurements = append(measurements, t.m)
	}

	return DecodeResult{
		Measurements: measurements,
		Epochs:       effective,
		Warnings:     warnings,
	}
}

// effectiveEpochs computes, for each name, the maximum epoch directive value
// appearing anywhere in lines.
func effectiveEpochs(lines []string) map[string]uint32 {
	effective := make(map[string]uint32)

	for _, line := range lines {
		fields := splitFields(line)
		if len(fields) == 0 || fields[0] != epochMarker {
			continue
		}

		name, epoch, ok := parseEpochDirective(fields)
		if !ok {
			continue
		}

		if epoch > effective[name] {
			effective[name] = epoch
		}
	}

	return effective
}

// splitFields collapses runs of whitespace and trims the line, per the wire
// format's "exactly one ASCII space between fields" rule on the encode side
// and tolerant multi-space collapsing on decode.
func splitFields(line string) []string {
	return strings.Fields(line)
}

// parseEpochDirective parses fields as "0 <epoch> <name>". Malformed
// directives (wrong field count, non-numeric epoch) are silently ignored,
// per spec: only well-formed lines affect effective epoch.
func parseEpochDirective(fields []string) (name string, epoch uint32, ok bool) {
	if len(fields) != epochDirectiveFields {
		return "", 0, false
	}

	value, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return "", 0, false
	}

	return fields[2], uint32(value), true
}

// parseRecord parses fields as "NAME VALUE TIMESTAMP [K=V ...]". Returns
// ok=false with a reason when NAME is the reserved epoch marker, VALUE or
// TIMESTAMP fail to parse; such lines are dropped without aborting the batch.
// Selector tokens lacking "=" or with an empty key/value are dropped
// silently; a duplicated key keeps the later occurrence.
func parseRecord(fields []string) (m Measurement, reason string, ok bool) {
	const minFields = 3

	if len(fields) < minFields {
		return Measurement{}, "too few fields", false
	}

	name := fields[0]
	if name == epochMarker {
		return Measurement{}, "reserved name", false
	}

	value, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Measurement{}, fmt.Sprintf("bad value: %v", err), false
	}

	timestamp, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Measurement{}, fmt.Sprintf("bad timestamp: %v", err), false
	}

	var selectors map[string]string

	for _, tok := range fields[minFields:] {
		key, val, found := strings.Cut(tok, "=")
		if !found || key == "" || val == "" {
			continue
		}

		if selectors == nil {
			selectors = make(map[string]string)
		}

		selectors[key] = val
	}

	return Measurement{
		Name:      name,
		Value:     value,
		Timestamp: timestamp,
		Selectors: selectors,
	}, "", true
}

// Encode renders m as one wire-format line, fields space-separated, selector
// keys in lexicographic order for determinism.
func Encode(m Measurement) string {
	var b strings.Builder

	b.WriteString(m.Name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatFloat(m.Value, 'g', -1, 64))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(m.Timestamp, 10))

	for _, k := range mapx.SortedKeys(m.Selectors) {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m.Selectors[k])
	}

	return b.String()
}

// EncodeEpochDirective renders an epoch directive line for name at epoch.
func EncodeEpochDirective(name string, epoch uint32) string {
	return epochMarker + " " + strconv.FormatUint(uint64(epoch), 10) + " " + name
}
