package tts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripWAVHeader(t *testing.T) {
	header := make([]byte, wavHeaderLen)
	copy(header, "RIFF")
	copy(header[8:], "WAVE")
	pcm := []byte{1, 2, 3, 4}

	assert.Equal(t, pcm, StripWAVHeader(append(header, pcm...)))
	assert.Equal(t, pcm, StripWAVHeader(pcm))
}

func TestLanguageFor(t *testing.T) {
	assert.Equal(t, "es-ES", languageFor("en", "es-ES-Neural2-A", "en-US"))
	assert.Equal(t, "fr", languageFor("fr", "", "en-US"))
	assert.Equal(t, "en-US", languageFor("", "custom", "en-US"))
}
