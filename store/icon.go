package store

import (
	"sort"
	"strconv"
	"strings"
)

const iconKeyPrefix = "image_"

// URL picks the best-resolution icon URL from the map: "image_original"
// wins, then numeric "image_NN" keys from largest to smallest. Boolean
// markers and non-string values are ignored. Empty string on no match.
func (m IconMap) URL() string {
	if m == nil {
		return ""
	}
	var keys []string
	for k, v := range m {
		if !strings.HasPrefix(k, iconKeyPrefix) {
			continue
		}
		if _, ok := v.(string); !ok {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Slice(keys, func(i, j int) bool {
		n1 := keys[i][len(iconKeyPrefix):]
		n2 := keys[j][len(iconKeyPrefix):]
		if n1 == "original" {
			return true
		}
		if n2 == "original" {
			return false
		}
		nn1, err1 := strconv.Atoi(n1)
		nn2, err2 := strconv.Atoi(n2)
		if err1 != nil {
			return false
		}
		if err2 != nil {
			return true
		}
		return nn1 > nn2
	})
	s, _ := m[keys[0]].(string)
	return s
}

// Emoji returns the emoji icon, if the map carries one.
func (m IconMap) Emoji() string {
	if m == nil {
		return ""
	}
	s, _ := m["emoji"].(string)
	return s
}
