package memstore

import (
	"testing"

	"github.com/MrEthical07/goMFA/store"
	"github.com/MrEthical07/goMFA/store/storetest"
)

func TestMemstoreConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}
