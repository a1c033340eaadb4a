package daemon

import (
	"os"

	"github.com/matheus3301/homecare/internal/bus"
	"github.com/matheus3301/homecare/internal/conn"
	"github.com/matheus3301/homecare/internal/credential"
	"go.uber.org/zap"
)

// watchAuthFailures removes the stored token once the server rejects it, so a
// restart does not replay a credential known to be bad. A token supplied
// through the environment is left alone.
func watchAuthFailures(b *bus.Bus, creds *credential.Store, logger *zap.Logger) func() {
	ch, unsub := b.Subscribe(conn.KindAuthFailed, 8)
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		for {
			select {
			case evt := <-ch:
				af, _ := evt.Payload.(conn.AuthFailed)
				if os.Getenv(credential.TokenEnv) != "" {
					logger.Warn("credential rejected", zap.String("reason", af.Message))
					continue
				}
				if err := creds.Clear(); err != nil {
					logger.Error("could not remove rejected credential", zap.Error(err))
					continue
				}
				logger.Warn("credential rejected and removed", zap.String("reason", af.Message))
			case <-done:
				return
			}
		}
	}()

	return func() {
		unsub()
		close(done)
		<-stopped
	}
}
