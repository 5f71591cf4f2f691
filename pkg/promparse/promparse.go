// Package promparse — Prometheus text exposition format okuyucu.
//
// CLI'ın /relay-stats komutu relay'in /metrics çıktısını bu paketle okur.
// Aynı metrik adı farklı label kombinasyonlarıyla birden fazla kez
// görünebilir; erişim ya label'a göre ya da toplam (sum) üzerinden yapılır.
//
//	# HELP meshchat_relay_connections Number of connected peers.
//	# TYPE meshchat_relay_connections gauge
//	meshchat_relay_connections 3
//	meshchat_relay_frames_total{type="update"} 42
//
// Kullanım:
//
//	m, err := promparse.ParseReader(resp.Body)
//	peers := m.Int("meshchat_relay_connections")
//	updates := m.Uint64WithLabel("meshchat_relay_frames_total", "type", "update")
//	for _, reason := range m.LabelValues("meshchat_relay_frames_dropped_total", "reason") { ... }
package promparse

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// sample, tek bir metrik satırı.
type sample struct {
	labels map[string]string
	value  float64
}

// Metrics, okunan örnekleri metrik adına göre tutar.
type Metrics struct {
	samples map[string][]sample
}

// Parse, metin gövdesini okur. Bozuk satırlar atlanır.
func Parse(body string) *Metrics {
	m, _ := ParseReader(strings.NewReader(body))
	return m
}

// ParseReader, r'yi sonuna kadar okur. Yalnızca okuma hatası döner;
// bozuk satırlar atlanır.
func ParseReader(r io.Reader) (*Metrics, error) {
	m := &Metrics{samples: make(map[string][]sample)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, s, ok := parseSample(line)
		if !ok {
			continue
		}
		m.samples[name] = append(m.samples[name], s)
	}
	if err := scanner.Err(); err != nil {
		return m, fmt.Errorf("read metrics: %w", err)
	}
	return m, nil
}

// Has, metriğin en az bir örneği olup olmadığı.
func (m *Metrics) Has(name string) bool {
	return len(m.samples[name]) > 0
}

// Int, ilk örneğin değeri (label fark etmez). Yoksa 0.
func (m *Metrics) Int(name string) int {
	if s := m.samples[name]; len(s) > 0 {
		return int(s[0].value)
	}
	return 0
}

// Uint64, ilk örneğin değeri; negatifse 0.
func (m *Metrics) Uint64(name string) uint64 {
	if s := m.samples[name]; len(s) > 0 {
		return toUint64(s[0].value)
	}
	return 0
}

// SumUint64, tüm label kombinasyonlarının toplamı (counter'lar için).
func (m *Metrics) SumUint64(name string) uint64 {
	var total float64
	for _, s := range m.samples[name] {
		total += s.value
	}
	return toUint64(total)
}

// Float64WithLabel, labelKey=labelValue olan ilk örneğin değeri.
func (m *Metrics) Float64WithLabel(name, labelKey, labelValue string) float64 {
	for _, s := range m.samples[name] {
		if s.labels[labelKey] == labelValue {
			return s.value
		}
	}
	return 0
}

// Uint64WithLabel, Float64WithLabel'ın uint64 hali.
func (m *Metrics) Uint64WithLabel(name, labelKey, labelValue string) uint64 {
	return toUint64(m.Float64WithLabel(name, labelKey, labelValue))
}

// LabelValues, metrikte labelKey'in aldığı değerler (sıralı, tekrarsız).
func (m *Metrics) LabelValues(name, labelKey string) []string {
	var out []string
	for _, s := range m.samples[name] {
		if v, ok := s.labels[labelKey]; ok && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

func toUint64(f float64) uint64 {
	if f < 0 {
		return 0
	}
	return uint64(f)
}

// ─── Parser ───

// parseSample, tek satırı okur.
//
//	`name{a="x",b="y, z"} 42 1700000000000` → ("name", {a:x, b:"y, z"}, 42)
//	`name 42`                               → ("name", nil, 42)
func parseSample(line string) (string, sample, bool) {
	var (
		name string
		rest string
		s    sample
	)

	if brace := strings.IndexByte(line, '{'); brace >= 0 {
		name = line[:brace]
		labels, n, ok := parseLabels(line[brace+1:])
		if !ok {
			return "", s, false
		}
		s.labels = labels
		rest = line[brace+1+n:]
	} else {
		var found bool
		name, rest, found = strings.Cut(line, " ")
		if !found {
			return "", s, false
		}
	}

	// rest: "42" veya "42 <timestamp>"
	fields := strings.Fields(rest)
	if name == "" || len(fields) == 0 {
		return "", s, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", s, false
	}
	s.value = v
	return name, s, true
}

// parseLabels, `a="x",b="y"}` biçimindeki label listesini kapanan '}'
// dahil okur ve tüketilen byte sayısını döner. Değerler içinde virgül,
// '}' ve kaçışlı tırnak (\") bulunabilir.
func parseLabels(s string) (map[string]string, int, bool) {
	labels := make(map[string]string)
	i := 0
	for {
		for i < len(s) && (s[i] == ' ' || s[i] == ',') {
			i++
		}
		if i >= len(s) {
			return nil, 0, false
		}
		if s[i] == '}' {
			return labels, i + 1, true
		}

		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return nil, 0, false
		}
		key := strings.TrimSpace(s[i : i+eq])
		i += eq + 1
		if i >= len(s) || s[i] != '"' {
			return nil, 0, false
		}
		i++

		var val strings.Builder
		for ; i < len(s) && s[i] != '"'; i++ {
			if s[i] == '\\' && i+1 < len(s) {
				i++
				switch s[i] {
				case 'n':
					val.WriteByte('\n')
				default:
					val.WriteByte(s[i])
				}
				continue
			}
			val.WriteByte(s[i])
		}
		if i >= len(s) {
			return nil, 0, false
		}
		i++ // kapanan tırnak
		labels[key] = val.String()
	}
}
