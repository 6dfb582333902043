//go:build integration

package archive

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func getNATSURL() string {
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	return nats.DefaultURL
}

func TestNATSArchiver(t *testing.T) {
	conn, err := nats.Connect(getNATSURL())
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}
	t.Cleanup(conn.Close)

	n := 0
	testArchiver(t, func(t *testing.T) TaskArchiver {
		n++
		a, err := NewNATSArchiver(NATSArchiverConfig{
			Conn:   conn,
			Bucket: fmt.Sprintf("test-archive-%d-%d", time.Now().UnixNano(), n),
		})
		require.NoError(t, err)
		t.Cleanup(func() { a.Close() })
		return a
	}, func(t *testing.T, a TaskArchiver) {
		kv := a.(*NATSArchiver).kv
		_, err := kv.Put(context.Background(), natsKey("corrupt"), []byte{0xff, 0x00})
		require.NoError(t, err)
	})
}
