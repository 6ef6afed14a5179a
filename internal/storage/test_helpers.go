package storage

import (
	"context"
	"testing"
	"time"
)

// testContext bounds a storage test well below the suite timeout, so a
// wedged cache or pool call fails the test instead of hanging it.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
