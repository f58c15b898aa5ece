package analyzer

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	LabelSignature = "signature"
	LabelStamp     = "stamp"
	LabelMix       = "mix"
)

// LabelTable maps model class indices to labels.
type LabelTable map[int]string

func DefaultLabels() LabelTable {
	return LabelTable{0: LabelSignature, 1: LabelStamp, 2: LabelMix}
}

// Resolve returns the label for class. Names reported by the model take
// precedence over the table.
func (t LabelTable) Resolve(class int, names map[int]string) (string, bool) {
	if l, ok := names[class]; ok && l != "" {
		return l, true
	}
	l, ok := t[class]
	return l, ok && l != ""
}

// LoadLabels reads a label table file. The names key may be a mapping
// (`names: {0: signature}`) or a list indexed from zero.
func LoadLabels(path string) (LabelTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	t, err := ParseLabels(data)
	if err != nil {
		return nil, fmt.Errorf("labels %s: %w", path, err)
	}
	return t, nil
}

func ParseLabels(data []byte) (LabelTable, error) {
	var doc struct {
		Names yaml.Node `yaml:"names"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	t := LabelTable{}
	switch doc.Names.Kind {
	case yaml.MappingNode:
		var m map[int]string
		if err := doc.Names.Decode(&m); err != nil {
			return nil, err
		}
		for k, v := range m {
			t[k] = v
		}
	case yaml.SequenceNode:
		var list []string
		if err := doc.Names.Decode(&list); err != nil {
			return nil, err
		}
		for i, v := range list {
			t[i] = v
		}
	case 0:
		return nil, errors.New("missing names")
	default:
		return nil, fmt.Errorf("names must be a mapping or a list, line %d", doc.Names.Line)
	}

	if len(t) == 0 {
		return nil, errors.New("names is empty")
	}
	for k, v := range t {
		if k < 0 {
			return nil, fmt.Errorf("negative class index %d", k)
		}
		if v == "" {
			return nil, fmt.Errorf("class %d has an empty label", k)
		}
	}
	return t, nil
}
