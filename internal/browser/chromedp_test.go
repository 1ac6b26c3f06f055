package browser

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
)

func documentResponse(status int64) *network.EventResponseReceived {
	return &network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: status},
	}
}

func TestRecordDocumentStatus_FirstDocumentWins(t *testing.T) {
	var code atomic.Int64

	recordDocumentStatus(&code, documentResponse(429))
	recordDocumentStatus(&code, documentResponse(200))

	assert.Equal(t, int64(429), code.Load())
}

func TestRecordDocumentStatus_IgnoresSubresources(t *testing.T) {
	var code atomic.Int64

	recordDocumentStatus(&code, &network.EventResponseReceived{
		Type:     network.ResourceTypeXHR,
		Response: &network.Response{Status: 500},
	})
	recordDocumentStatus(&code, &network.EventLoadingFinished{})

	assert.Equal(t, int64(0), code.Load())

	recordDocumentStatus(&code, documentResponse(200))
	assert.Equal(t, int64(200), code.Load())
}

func TestRecordDocumentStatus_ConcurrentEvents(t *testing.T) {
	var code atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recordDocumentStatus(&code, documentResponse(429))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(429), code.Load())
}
