package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIconMapURL(t *testing.T) {
	cases := []struct {
		name string
		m    IconMap
		want string
	}{
		{"nil map", nil, ""},
		{"no image keys", IconMap{"emoji": ":tada:"}, ""},
		{"original wins", IconMap{
			"image_original": "https://img/orig.png",
			"image_512":      "https://img/512.png",
		}, "https://img/orig.png"},
		{"largest numeric", IconMap{
			"image_34":  "https://img/34.png",
			"image_512": "https://img/512.png",
			"image_72":  "https://img/72.png",
		}, "https://img/512.png"},
		{"boolean markers skipped", IconMap{
			"image_default": true,
			"image_48":      "https://img/48.png",
		}, "https://img/48.png"},
		{"non-numeric suffix loses", IconMap{
			"image_x":  "https://img/x.png",
			"image_48": "https://img/48.png",
		}, "https://img/48.png"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.m.URL())
		})
	}
}

func TestIconMapEmoji(t *testing.T) {
	assert.Equal(t, ":tada:", IconMap{"emoji": ":tada:"}.Emoji())
	assert.Equal(t, "", IconMap{}.Emoji())
	assert.Equal(t, "", IconMap(nil).Emoji())
}
