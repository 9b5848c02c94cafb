package wa

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// PairAndConnect runs the interactive QR pairing flow: it prints each
// pairing code to the daemon's stdout as a scannable QR block and blocks
// until the phone links the device, the codes time out, or ctx is
// cancelled. On success the connection is already established.
func (a *Adapter) PairAndConnect(ctx context.Context) error {
	if a.IsLoggedIn() {
		return a.Connect()
	}

	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get QR channel: %w", err)
	}

	// Connect must be called after GetQRChannel.
	if err := a.Connect(); err != nil {
		return fmt.Errorf("connect for pairing: %w", err)
	}

	for {
		select {
		case item, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("pairing channel closed")
			}
			switch item.Event {
			case "code":
				a.logger.Info("pairing code generated, scan with WhatsApp")
				fmt.Fprintf(os.Stdout, "\nScan this QR code with WhatsApp:\n\n%s\n", renderQR(item.Code))
			case "success":
				a.logger.Info("device paired", zap.String("jid", a.Self().String()))
				return nil
			case "timeout":
				return fmt.Errorf("pairing timed out")
			default:
				if item.Error != nil {
					return fmt.Errorf("pairing failed: %w", item.Error)
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
