package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/mohammed-shakir/stream-optimizer/internal/telemetry"
	"github.com/mohammed-shakir/stream-optimizer/internal/transport"
)

// Run consumes src until ctx is cancelled or src is exhausted, sending each
// recommendation to sink (which may be nil). No per-sample failure stops the
// loop. When training is enabled both models are saved on the way out.
func (l *Loop) Run(ctx context.Context, src transport.Source, sink transport.Sink) error {
	if src == nil {
		return errors.New("control: nil source")
	}
	l.log.InfoContext(ctx, "control loop started",
		"training", l.cfg.Training, "recv_timeout", l.cfg.RecvTimeout)
	defer l.shutdown(ctx)

	for {
		if ctx.Err() != nil {
			return nil
		}

		raw, err := l.receive(ctx, src)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, io.EOF), errors.Is(err, transport.ErrClosed):
				l.log.InfoContext(ctx, "telemetry source closed")
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				l.metrics.ReceiveError("timeout")
				l.log.WarnContext(ctx, "timeout waiting for metrics", "timeout", l.cfg.RecvTimeout)
			default:
				l.metrics.ReceiveError("transport")
				l.log.ErrorContext(ctx, "receive failed", "err", err)
				l.sleep(ctx)
			}
			continue
		}

		sample, err := l.ingest.Ingest(raw)
		if err != nil {
			if errors.Is(err, telemetry.ErrDuplicate) {
				l.metrics.ReceiveError("duplicate")
				l.log.DebugContext(ctx, "duplicate telemetry skipped")
				continue
			}
			l.metrics.ReceiveError("decode")
			l.log.WarnContext(ctx, "malformed telemetry dropped", "err", err, "bytes", len(raw))
			continue
		}

		rec, seq, err := l.step(ctx, sample)
		if err != nil {
			l.log.ErrorContext(ctx, "error in optimization loop", "err", err)
			l.sleep(ctx)
			continue
		}
		if sink == nil {
			continue
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			l.log.ErrorContext(ctx, "encode recommendation", "err", err)
			continue
		}
		env := transport.Envelope{SessionID: l.cfg.SessionID, Seq: seq, Payload: payload}
		if err := sink.Send(ctx, env); err != nil {
			l.log.WarnContext(ctx, "recommendation not delivered", "seq", seq, "err", err)
		}
	}
}

func (l *Loop) receive(ctx context.Context, src transport.Source) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, l.cfg.RecvTimeout)
	defer cancel()
	return src.Receive(rctx)
}

func (l *Loop) sleep(ctx context.Context) {
	t := time.NewTimer(l.cfg.ErrorBackoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (l *Loop) shutdown(ctx context.Context) {
	if !l.cfg.Training || l.ckpt == nil {
		l.log.Info("control loop stopped")
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.SaveTimeout)
	defer cancel()
	if err := l.SaveModels(sctx); err != nil {
		l.log.Error("saving models on shutdown failed", "err", err)
		return
	}
	l.log.Info("control loop stopped, models saved")
}
