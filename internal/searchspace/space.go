package searchspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxSampleAttempts bounds how many draws Sample makes before giving up on an
// algorithm whose constraints reject most combinations.
const maxSampleAttempts = 100

// maxGeneratedValues bounds the number of values a range or arange
// generator may expand to.
const maxGeneratedValues = 1_000_000

// ErrInvalid is returned for malformed search spaces and invalid candidates.
var ErrInvalid = errors.New("invalid search space")

// Kind classifies an algorithm's role in a pipeline.
type Kind string

// Algorithm kinds.
const (
	KindClassifier   Kind = "classifier"
	KindPreprocessor Kind = "preprocessor"
	KindSelector     Kind = "selector"
)

// Constraint rejects parameter combinations: whenever every When pair
// matches, each Require parameter must take one of its listed values.
type Constraint struct {
	When    map[string]any   `json:"when"`
	Require map[string][]any `json:"require"`
}

// Algorithm is one entry of the search space.
type Algorithm struct {
	Name        string           `json:"name"`
	Kind        Kind             `json:"kind"`
	Params      map[string][]any `json:"params"`
	Constraints []Constraint     `json:"constraints,omitempty"`
}

// ParamNames returns the algorithm's parameter names in sorted order.
func (a *Algorithm) ParamNames() []string {
	names := make([]string, 0, len(a.Params))
	for name := range a.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Candidate is a fully instantiated parameter combination for one algorithm.
type Candidate struct {
	Algorithm string         `json:"algorithm"`
	Params    map[string]any `json:"params"`
}

// String renders the candidate as Name(k=v, ...) with sorted keys.
func (c Candidate) String() string {
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, c.Params[k])
	}
	return c.Algorithm + "(" + strings.Join(parts, ", ") + ")"
}

// ParamsJSON encodes the candidate's parameters as a JSON object.
func (c Candidate) ParamsJSON() string {
	b, err := json.Marshal(c.Params)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Space is an immutable, validated search space.
type Space struct {
	algorithms map[string]*Algorithm
	names      []string
}

type document struct {
	Shared     map[string]values       `yaml:"shared"`
	Algorithms map[string]algorithmDoc `yaml:"algorithms"`
}

type algorithmDoc struct {
	Kind        string            `yaml:"kind"`
	Params      map[string]values `yaml:"params"`
	Constraints []constraintDoc   `yaml:"constraints"`
}

type constraintDoc struct {
	When    map[string]any   `yaml:"when"`
	Require map[string][]any `yaml:"require"`
}

// Load reads and parses a YAML search space from path.
func Load(path string) (*Space, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read search space: %w", err)
	}
	return Parse(data)
}

// Parse builds a Space from a YAML document.
func Parse(data []byte) (*Space, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(doc.Algorithms) == 0 {
		return nil, fmt.Errorf("%w: no algorithms", ErrInvalid)
	}

	s := &Space{algorithms: make(map[string]*Algorithm, len(doc.Algorithms))}
	for name, ad := range doc.Algorithms {
		alg, err := buildAlgorithm(name, ad, doc.Shared)
		if err != nil {
			return nil, err
		}
		s.algorithms[name] = alg
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	return s, nil
}

func buildAlgorithm(name string, ad algorithmDoc, shared map[string]values) (*Algorithm, error) {
	kind := Kind(ad.Kind)
	switch kind {
	case KindClassifier, KindPreprocessor, KindSelector:
	default:
		return nil, fmt.Errorf("%w: algorithm %q has unknown kind %q", ErrInvalid, name, ad.Kind)
	}

	alg := &Algorithm{Name: name, Kind: kind, Params: make(map[string][]any, len(ad.Params))}
	for param, vals := range ad.Params {
		if len(vals) == 0 {
			inherited, ok := shared[param]
			if !ok || len(inherited) == 0 {
				return nil, fmt.Errorf("%w: %s.%s has no values and no shared default", ErrInvalid, name, param)
			}
			vals = inherited
		}
		alg.Params[param] = []any(vals)
	}

	for i, cd := range ad.Constraints {
		if len(cd.When) == 0 || len(cd.Require) == 0 {
			return nil, fmt.Errorf("%w: %s constraint %d needs both when and require", ErrInvalid, name, i)
		}
		for param := range cd.When {
			if _, ok := alg.Params[param]; !ok {
				return nil, fmt.Errorf("%w: %s constraint %d references unknown parameter %q", ErrInvalid, name, i, param)
			}
		}
		for param := range cd.Require {
			if _, ok := alg.Params[param]; !ok {
				return nil, fmt.Errorf("%w: %s constraint %d references unknown parameter %q", ErrInvalid, name, i, param)
			}
		}
		alg.Constraints = append(alg.Constraints, Constraint{When: cd.When, Require: cd.Require})
	}
	return alg, nil
}

// Names returns all algorithm names in sorted order.
func (s *Space) Names() []string {
	return slices.Clone(s.names)
}

// Algorithm returns the named algorithm.
func (s *Space) Algorithm(name string) (*Algorithm, bool) {
	a, ok := s.algorithms[name]
	return a, ok
}

// Algorithms returns every algorithm in name order.
func (s *Space) Algorithms() []*Algorithm {
	out := make([]*Algorithm, len(s.names))
	for i, name := range s.names {
		out[i] = s.algorithms[name]
	}
	return out
}

// Size returns the number of parameter combinations of the named algorithm,
// ignoring constraints. An algorithm without parameters has size 1. Sizes
// beyond math.MaxInt saturate at math.MaxInt.
func (s *Space) Size(name string) (int, error) {
	alg, ok := s.algorithms[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown algorithm %q", ErrInvalid, name)
	}
	n := 1
	saturated := false
	for _, vals := range alg.Params {
		k := len(vals)
		if k == 0 {
			return 0, nil
		}
		if n > math.MaxInt/k {
			saturated = true
			continue
		}
		n *= k
	}
	if saturated {
		return math.MaxInt, nil
	}
	return n, nil
}

// Sample draws a random valid candidate from one of the named algorithms,
// or from all algorithms when names is empty.
func (s *Space) Sample(rng *rand.Rand, names ...string) (Candidate, error) {
	if len(names) == 0 {
		names = s.names
	}
	for _, name := range names {
		if _, ok := s.algorithms[name]; !ok {
			return Candidate{}, fmt.Errorf("%w: unknown algorithm %q", ErrInvalid, name)
		}
	}

	alg := s.algorithms[names[rng.IntN(len(names))]]
	for range maxSampleAttempts {
		c := Candidate{Algorithm: alg.Name, Params: make(map[string]any, len(alg.Params))}
		for _, param := range alg.ParamNames() {
			vals := alg.Params[param]
			c.Params[param] = vals[rng.IntN(len(vals))]
		}
		if alg.satisfies(c) {
			return c, nil
		}
	}
	return Candidate{}, fmt.Errorf("%w: no valid candidate for %s after %d attempts", ErrInvalid, alg.Name, maxSampleAttempts)
}

// Valid checks that c names a known algorithm, sets exactly its parameters
// to allowed values, and satisfies its constraints.
func (s *Space) Valid(c Candidate) error {
	alg, ok := s.algorithms[c.Algorithm]
	if !ok {
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalid, c.Algorithm)
	}
	for param, vals := range alg.Params {
		v, ok := c.Params[param]
		if !ok {
			return fmt.Errorf("%w: %s is missing parameter %q", ErrInvalid, c.Algorithm, param)
		}
		if !containsValue(vals, v) {
			return fmt.Errorf("%w: %s.%s=%v is not a candidate value", ErrInvalid, c.Algorithm, param, v)
		}
	}
	for param := range c.Params {
		if _, ok := alg.Params[param]; !ok {
			return fmt.Errorf("%w: %s has no parameter %q", ErrInvalid, c.Algorithm, param)
		}
	}
	if !alg.satisfies(c) {
		return fmt.Errorf("%w: %s violates a parameter constraint", ErrInvalid, c)
	}
	return nil
}

func (a *Algorithm) satisfies(c Candidate) bool {
	for _, con := range a.Constraints {
		applies := true
		for param, want := range con.When {
			if !equalValue(c.Params[param], want) {
				applies = false
				break
			}
		}
		if !applies {
			continue
		}
		for param, allowed := range con.Require {
			if !containsValue(allowed, c.Params[param]) {
				return false
			}
		}
	}
	return true
}

func containsValue(vals []any, v any) bool {
	for _, candidate := range vals {
		if equalValue(candidate, v) {
			return true
		}
	}
	return false
}

// equalValue compares decoded YAML/JSON scalars, treating ints and floats
// with the same numeric value as equal.
func equalValue(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// values is a list of candidate values, written in YAML either as a sequence
// or as a {range: [start, stop]} / {arange: [start, stop, step]} generator.
type values []any

func (v *values) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var out []any
		if err := node.Decode(&out); err != nil {
			return err
		}
		*v = out
		return nil
	case yaml.MappingNode:
		var gen struct {
			Range  []int     `yaml:"range"`
			Arange []float64 `yaml:"arange"`
		}
		if err := node.Decode(&gen); err != nil {
			return err
		}
		out, err := expand(gen.Range, gen.Arange)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*v = out
		return nil
	default:
		return fmt.Errorf("line %d: candidate values must be a list or a range", node.Line)
	}
}

func expand(intRange []int, floatRange []float64) ([]any, error) {
	switch {
	case intRange != nil && floatRange != nil:
		return nil, fmt.Errorf("%w: range and arange are exclusive", ErrInvalid)
	case intRange != nil:
		if len(intRange) != 2 || intRange[1] <= intRange[0] {
			return nil, fmt.Errorf("%w: range needs [start, stop] with stop > start", ErrInvalid)
		}
		if uint64(intRange[1]-intRange[0]) > maxGeneratedValues {
			return nil, fmt.Errorf("%w: range expands to more than %d values", ErrInvalid, maxGeneratedValues)
		}
		out := make([]any, 0, intRange[1]-intRange[0])
		for i := intRange[0]; i < intRange[1]; i++ {
			out = append(out, i)
		}
		return out, nil
	case floatRange != nil:
		if len(floatRange) != 3 || floatRange[2] <= 0 || floatRange[1] <= floatRange[0] {
			return nil, fmt.Errorf("%w: arange needs [start, stop, step] with step > 0 and stop > start", ErrInvalid)
		}
		start, stop, step := floatRange[0], floatRange[1], floatRange[2]
		count := (stop - start) / step
		if math.IsInf(start, 0) || math.IsInf(stop, 0) || math.IsNaN(count) || count > maxGeneratedValues {
			return nil, fmt.Errorf("%w: arange expands to more than %d values", ErrInvalid, maxGeneratedValues)
		}
		n := int(math.Ceil(count - 1e-9))
		out := make([]any, 0, n)
		for i := range n {
			out = append(out, math.Round((start+float64(i)*step)*1e10)/1e10)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: generator needs range or arange", ErrInvalid)
	}
}
