package runtime

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/objrt/handle"
)

// opaqueWatch follows the opaque value table. Values removed while the
// runtime closes still had references and are reported one by one.
type opaqueWatch struct {
	log     *zap.Logger
	closing atomic.Bool
}

func (w *opaqueWatch) OnHandleEvent(e handle.Event) {
	if e.Type != handle.EventRemoved {
		return
	}
	if w.closing.Load() {
		w.log.Warn("released leaked opaque value",
			zap.Uint32("handle", uint32(e.Handle)),
			zap.String("type", fmt.Sprintf("%T", e.Value)))
		return
	}
	w.log.Debug("opaque value released", zap.Uint32("handle", uint32(e.Handle)))
}
