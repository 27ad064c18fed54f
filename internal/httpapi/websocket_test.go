package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuplex_UpgradeAttachesAndDetachesFromHub(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return deps.Hub.IsConnected() }, time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())

	assert.Eventually(t, func() bool { return !deps.Hub.IsConnected() }, time.Second, 10*time.Millisecond)
}
