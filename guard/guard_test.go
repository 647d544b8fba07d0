package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReleaseAll(t *testing.T) {
	releasersMu.Lock()
	saved := releasers
	releasers = nil
	releasersMu.Unlock()
	defer func() {
		releasersMu.Lock()
		releasers = saved
		releasersMu.Unlock()
	}()

	assert.Equal(t, 0, releaseAll())

	Register(func() int { return 3 })
	Register(func() int { return 4 })
	assert.Equal(t, 7, releaseAll())
}
