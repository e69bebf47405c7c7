package refid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate_Format(t *testing.T) {
	id := Generate("co")
	parts := strings.SplitN(id, "_", 3)
	assert.Len(t, parts, 3)
	assert.Equal(t, "co", parts[0])
	assert.Len(t, parts[2], 24) // 96 bits as hex
}

func TestGenerate_NoCollisions(t *testing.T) {
	seen := make(map[string]struct{}, 100000)
	for i := 0; i < 100000; i++ {
		id := Generate("tx")
		if _, dup := seen[id]; dup {
			t.Fatalf("collision after %d ids: %s", i, id)
		}
		seen[id] = struct{}{}
	}
}
