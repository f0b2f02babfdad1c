package model

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// Mismatch is one desired value that current state does not reflect.
type Mismatch struct {
	Path    string
	Desired interface{}
	Current interface{}
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: desired %v, current %v", m.Path, m.Desired, m.Current)
}

// CompareInterfaces reports every field set in desired whose value differs
// in current. Unset desired fields are not compared.
func CompareInterfaces(desired, current Interface) []Mismatch {
	return Diff(desired, current)
}

// Diff compares any two wire-encodable values sparsely.
func Diff(desired, current interface{}) []Mismatch {
	var out []Mismatch
	diffValues("", toGeneric(desired), toGeneric(current), &out)
	return out
}

// Covers reports whether current satisfies every field set in desired.
func Covers(desired, current interface{}) bool {
	return len(Diff(desired, current)) == 0
}

// ToMap renders a value into its generic wire map.
func ToMap(v interface{}) map[interface{}]interface{} {
	m, _ := toGeneric(v).(map[interface{}]interface{})
	return m
}

func toGeneric(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil
	}
	var out interface{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func diffValues(path string, d, c interface{}, out *[]Mismatch) {
	switch dv := d.(type) {
	case map[interface{}]interface{}:
		cm, ok := c.(map[interface{}]interface{})
		if !ok {
			*out = append(*out, Mismatch{Path: path, Desired: d, Current: c})
			return
		}
		for _, k := range sortedKeys(dv) {
			sub := joinPath(path, k)
			cv, found := cm[k]
			if !found {
				if isDetach(k, dv[k]) {
					continue
				}
				*out = append(*out, Mismatch{Path: sub, Desired: dv[k]})
				continue
			}
			diffValues(sub, dv[k], cv, out)
		}
	case []interface{}:
		cl, ok := c.([]interface{})
		if !ok || len(cl) != len(dv) || !listCovered(dv, cl) {
			*out = append(*out, Mismatch{Path: path, Desired: d, Current: c})
		}
	case string:
		cs, ok := c.(string)
		if ok && strings.HasSuffix(path, "mac-address") && strings.EqualFold(dv, cs) {
			return
		}
		if !ok || dv != cs {
			*out = append(*out, Mismatch{Path: path, Desired: d, Current: c})
		}
	default:
		if fmt.Sprint(d) != fmt.Sprint(c) {
			*out = append(*out, Mismatch{Path: path, Desired: d, Current: c})
		}
	}
}

// listCovered matches each desired element to a distinct current element,
// ignoring order.
func listCovered(d, c []interface{}) bool {
	used := make([]bool, len(c))
	for _, de := range d {
		matched := false
		for i, ce := range c {
			if used[i] {
				continue
			}
			var mm []Mismatch
			diffValues("", de, ce, &mm)
			if len(mm) == 0 {
				used[i] = true
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func isDetach(k interface{}, v interface{}) bool {
	ks, _ := k.(string)
	vs, _ := v.(string)
	return ks == "controller" && vs == ""
}

func sortedKeys(m map[interface{}]interface{}) []interface{} {
	keys := make([]interface{}, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
	})
	return keys
}

func joinPath(path string, k interface{}) string {
	if path == "" {
		return fmt.Sprint(k)
	}
	return path + "." + fmt.Sprint(k)
}
