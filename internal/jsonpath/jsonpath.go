// Package jsonpath derives the field-mapping document Redshift needs to load
// semi-structured rows into columns.
package jsonpath

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// Document is the jsonpaths file consumed by COPY ... JSON 's3://...'.
type Document struct {
	JSONPaths []string `json:"jsonpaths"`
}

// Paths walks a sample JSON document and returns the sorted, deduplicated
// set of bracketed access paths to every scalar reachable through object
// keys. Arrays are not descended into: each array contributes a single path
// ending in [listIdx], the one global index supported by this design.
//
// Identical input always yields identical output; the result is the
// authoritative field-to-column mapping for JSON-shaped transfers.
func Paths(sample []byte, listIdx int) ([]string, error) {
	if listIdx < 0 {
		return nil, fmt.Errorf("invalid list index %d: must be non-negative", listIdx)
	}
	if !gjson.ValidBytes(sample) {
		return nil, errors.New("sample document is not valid json")
	}
	parsed := gjson.ParseBytes(sample)
	if !parsed.IsObject() {
		return nil, errors.New("sample document must be a json object")
	}

	accum := make(map[string]struct{})
	walk(accum, parsed, "$", listIdx)

	paths := lo.Keys(accum)
	sort.Strings(paths)
	return paths, nil
}

func walk(accum map[string]struct{}, value gjson.Result, parent string, listIdx int) {
	value.ForEach(func(key, child gjson.Result) bool {
		path := fmt.Sprintf("%s['%s']", parent, key.String())
		switch {
		case child.IsObject():
			walk(accum, child, path, listIdx)
		case child.IsArray():
			accum[fmt.Sprintf("%s[%d]", path, listIdx)] = struct{}{}
		default:
			accum[path] = struct{}{}
		}
		return true
	})
}
