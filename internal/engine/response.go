package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/stampdetect/internal/analyzer"
)

// Response maps page keys to results and keeps insertion order when
// serialized, so page10 follows page9.
type Response struct {
	keys  []string
	pages map[string]analyzer.PageResult
}

func NewResponse() *Response {
	return &Response{pages: make(map[string]analyzer.PageResult)}
}

// Add sets the result for key. A repeated key keeps its original position.
func (r *Response) Add(key string, res analyzer.PageResult) {
	if r.pages == nil {
		r.pages = make(map[string]analyzer.PageResult)
	}
	if _, ok := r.pages[key]; !ok {
		r.keys = append(r.keys, key)
	}
	if res.Detections == nil {
		res.Detections = []analyzer.Region{}
	}
	r.pages[key] = res
}

func (r *Response) Len() int {
	return len(r.keys)
}

func (r *Response) Keys() []string {
	return append([]string(nil), r.keys...)
}

func (r *Response) Page(key string) (analyzer.PageResult, bool) {
	res, ok := r.pages[key]
	return res, ok
}

// Pages returns results in insertion order.
func (r *Response) Pages() []analyzer.PageResult {
	out := make([]analyzer.PageResult, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.pages[k])
	}
	return out
}

func (r *Response) DetectionCount() int {
	n := 0
	for _, res := range r.pages {
		n += len(res.Detections)
	}
	return n
}

// Counts tallies signatures and stamps over all pages.
func (r *Response) Counts() analyzer.Counts {
	var c analyzer.Counts
	for _, res := range r.pages {
		c = c.Add(analyzer.SummarizeCounts(res.Detections))
	}
	return c
}

func (r *Response) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.pages[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Response) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("response: expected object, got %v", tok)
	}

	*r = Response{pages: make(map[string]analyzer.PageResult)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("response: unexpected key %v", tok)
		}
		var res analyzer.PageResult
		if err := dec.Decode(&res); err != nil {
			return fmt.Errorf("response: %s: %w", key, err)
		}
		r.Add(key, res)
	}
	_, err = dec.Token()
	return err
}

func (r *Response) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range r.keys {
		var val yaml.Node
		if err := val.Encode(r.pages[k]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			&val,
		)
	}
	return node, nil
}

func (r *Response) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("response: expected mapping at line %d", node.Line)
	}
	*r = Response{pages: make(map[string]analyzer.PageResult)}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var res analyzer.PageResult
		if err := node.Content[i+1].Decode(&res); err != nil {
			return fmt.Errorf("response: %s: %w", node.Content[i].Value, err)
		}
		r.Add(node.Content[i].Value, res)
	}
	return nil
}
