package mpsc

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/OCAP2/mpsc/pkg/mpsc"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type instruments struct {
	attrs metric.MeasurementOption

	sent     metric.Int64Counter
	received metric.Int64Counter
	rejected metric.Int64Counter
	senders  metric.Int64UpDownCounter
	batch    metric.Int64Histogram
}

// newInstruments never fails: an instrument the meter refuses is replaced
// by a no-op so that channel creation stays infallible.
func newInstruments(m metric.Meter, name string, log Logger) *instruments {
	fallback := noop.Meter{}
	report := func(instrument string, err error) {
		log.Error("creating instrument", "channel", name, "instrument", instrument, "error", err)
	}

	inst := &instruments{
		attrs: metric.WithAttributes(attribute.String("channel", name)),
	}

	var err error
	if inst.sent, err = m.Int64Counter(
		"mpsc.messages.sent",
		metric.WithDescription("Values enqueued by senders"),
	); err != nil {
		report("mpsc.messages.sent", err)
		inst.sent, _ = fallback.Int64Counter("mpsc.messages.sent")
	}
	if inst.received, err = m.Int64Counter(
		"mpsc.messages.received",
		metric.WithDescription("Values returned by the receiver"),
	); err != nil {
		report("mpsc.messages.received", err)
		inst.received, _ = fallback.Int64Counter("mpsc.messages.received")
	}
	if inst.rejected, err = m.Int64Counter(
		"mpsc.messages.rejected",
		metric.WithDescription("Sends refused because the receiver was closed"),
	); err != nil {
		report("mpsc.messages.rejected", err)
		inst.rejected, _ = fallback.Int64Counter("mpsc.messages.rejected")
	}
	if inst.senders, err = m.Int64UpDownCounter(
		"mpsc.senders",
		metric.WithDescription("Open sender handles"),
	); err != nil {
		report("mpsc.senders", err)
		inst.senders, _ = fallback.Int64UpDownCounter("mpsc.senders")
	}
	if inst.batch, err = m.Int64Histogram(
		"mpsc.receive.batch",
		metric.WithDescription("Values moved into the receive buffer per lock acquisition"),
	); err != nil {
		report("mpsc.receive.batch", err)
		inst.batch, _ = fallback.Int64Histogram("mpsc.receive.batch")
	}

	return inst
}

func (i *instruments) addSent() {
	i.sent.Add(context.Background(), 1, i.attrs)
}

func (i *instruments) addReceived() {
	i.received.Add(context.Background(), 1, i.attrs)
}

func (i *instruments) addRejected() {
	i.rejected.Add(context.Background(), 1, i.attrs)
}

func (i *instruments) addSenders(delta int64) {
	i.senders.Add(context.Background(), delta, i.attrs)
}

func (i *instruments) recordBatch(n int) {
	i.batch.Record(context.Background(), int64(n), i.attrs)
}
