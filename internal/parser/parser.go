package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/essay-grader/backend/internal/roles"
	"github.com/essay-grader/backend/internal/storage/models"
)

var ErrParseFailure = errors.New("no structured object found in response")

// Scored is one score/justification pair after clamping and default-filling.
type Scored struct {
	Score         int
	Justification string
	// Present is false when the response carried no usable score for this entry.
	Present bool
}

type ParsedObject struct {
	// Flat contracts.
	Scored

	// Report contracts.
	Competencies [models.NumCompetencies]Scored
	Final        int
	FinalPresent bool
	Diagnosis    string
	Tips         map[models.CompetencyID]string
}

// Parse extracts the structured object from raw model output and decodes it
// against contract. Missing fields default to zero values. ErrParseFailure is
// returned only when no object can be located or decoded.
func Parse(raw string, contract roles.OutputContract) (ParsedObject, error) {
	candidates := spans(raw)
	if len(candidates) == 0 {
		return ParsedObject{}, ErrParseFailure
	}

	obj, err := decodeFirst(candidates)
	if err != nil {
		return ParsedObject{}, err
	}

	var out ParsedObject
	switch contract.Kind {
	case roles.KindCompetency:
		out.Scored = readScored(obj, contract)
	case roles.KindReport:
		for i, key := range contract.CompetencyKeys {
			if nested, ok := lookup(obj, key).(map[string]any); ok {
				out.Competencies[i] = readScored(nested, contract)
			}
		}
		if v, ok := toInt(lookup(obj, contract.FinalField)); ok {
			out.Final = clamp(v, contract.FinalMax)
			out.FinalPresent = true
		}
		out.Diagnosis, _ = toText(lookup(obj, contract.DiagnosisField))
		out.Tips = readTips(obj, contract)
	default:
		return ParsedObject{}, fmt.Errorf("unknown contract kind %d", contract.Kind)
	}

	return out, nil
}

// ExtractSpan returns the first balanced {...} span in raw, ignoring code
// fences and surrounding prose. An unbalanced object falls back to the last
// closing brace, or to the rest of the text so the decoder can repair it.
func ExtractSpan(raw string) (string, error) {
	candidates := spans(raw)
	if len(candidates) == 0 {
		return "", ErrParseFailure
	}
	return candidates[0], nil
}

// spans lists the top-level {...} spans of raw in order. Nested objects are
// part of their enclosing span and never listed on their own.
func spans(raw string) []string {
	text := stripFence(strings.TrimSpace(raw))

	var out []string
	for {
		start := strings.IndexByte(text, '{')
		if start < 0 {
			return out
		}

		end, ok := closingBrace(text, start)
		if !ok {
			if last := strings.LastIndexByte(text, '}'); last > start {
				return append(out, text[start:last+1])
			}
			return append(out, text[start:])
		}

		out = append(out, text[start:end+1])
		text = text[end+1:]
	}
}

// closingBrace finds the brace that balances the one at start, skipping
// braces inside string literals.
func closingBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return text
}

// decodeFirst returns the first candidate that decodes as is. Only when none
// does are the candidates repaired, those with quoted keys first.
func decodeFirst(candidates []string) (map[string]any, error) {
	var firstErr error
	for _, span := range candidates {
		obj, err := decode(span)
		if err == nil {
			return obj, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, quoted := range []bool{true, false} {
		for _, span := range candidates {
			if strings.Contains(span, `"`) != quoted {
				continue
			}
			repaired, err := jsonrepair.JSONRepair(span)
			if err != nil {
				continue
			}
			if obj, err := decode(repaired); err == nil {
				return obj, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrParseFailure, firstErr)
}

func decode(s string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("response object is null")
	}
	return obj, nil
}

func readScored(obj map[string]any, contract roles.OutputContract) Scored {
	var s Scored
	if v, ok := toInt(lookup(obj, contract.ScoreField)); ok {
		s.Score = clamp(v, contract.ScoreMax)
		s.Present = true
	}
	s.Justification, _ = toText(lookup(obj, contract.JustificationField))
	return s
}

func readTips(obj map[string]any, contract roles.OutputContract) map[models.CompetencyID]string {
	tips := make(map[models.CompetencyID]string)
	if contract.TipsField == "" {
		return tips
	}
	raw, ok := lookup(obj, contract.TipsField).(map[string]any)
	if !ok {
		return tips
	}
	for i, c := range models.Competencies {
		if text, ok := toText(lookup(raw, contract.CompetencyKeys[i])); ok {
			tips[c] = text
		}
	}
	return tips
}

// lookup matches key exactly, then case-insensitively.
func lookup(obj map[string]any, key string) any {
	if key == "" {
		return nil
	}
	if v, ok := obj[key]; ok {
		return v
	}
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return roundFloat(f)
	case float64:
		return roundFloat(n)
	case string:
		return parseLeadingNumber(n)
	default:
		return 0, false
	}
}

func roundFloat(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	f = math.Round(f)
	if f > math.MaxInt32 {
		return math.MaxInt32, true
	}
	if f < math.MinInt32 {
		return math.MinInt32, true
	}
	return int(f), true
}

// parseLeadingNumber accepts "160", " 160.0 ", "160 pontos" and "160/200".
func parseLeadingNumber(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		ch := s[end]
		if (ch >= '0' && ch <= '9') || ch == '.' || (end == 0 && (ch == '-' || ch == '+')) {
			end++
			continue
		}
		if ch == ',' {
			// decimal comma
			s = s[:end] + "." + s[end+1:]
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return roundFloat(f)
}

func toText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
