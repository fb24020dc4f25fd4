// Package export ships analysis results to an Arrow Flight endpoint as
// record batches, one row per analyzed token. Downstream consumers can
// aggregate prediction quality across documents without re-running models.
package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/perplexdev/perplex/internal/analysis"
	"github.com/perplexdev/perplex/internal/logger"
)

// resultSchema is one row per token in original order.
var resultSchema = arrow.NewSchema([]arrow.Field{
	{Name: "position", Type: arrow.PrimitiveTypes.Int32},
	{Name: "token", Type: arrow.BinaryTypes.String},
	{Name: "rank", Type: arrow.PrimitiveTypes.Int32},
	{Name: "probability", Type: arrow.PrimitiveTypes.Float32},
}, nil)

// buildRecord converts a result into an Arrow record batch. The caller owns
// the returned record and must Release it.
func buildRecord(res *analysis.Result) arrow.Record {
	b := array.NewRecordBuilder(memory.DefaultAllocator, resultSchema)
	defer b.Release()

	positions := b.Field(0).(*array.Int32Builder)
	tokens := b.Field(1).(*array.StringBuilder)
	ranks := b.Field(2).(*array.Int32Builder)
	probs := b.Field(3).(*array.Float32Builder)

	for i, tok := range res.Tokens {
		positions.Append(int32(i))
		tokens.Append(tok.Text)
		ranks.Append(int32(tok.Rank))
		probs.Append(tok.Probability)
	}

	return b.NewRecord()
}

// FlightExporter is a thin Arrow Flight client. Connect before Export; the
// exporter is safe to reuse across analyses but not across goroutines.
type FlightExporter struct {
	addr    string
	timeout time.Duration
	client  flight.Client
	log     *logger.Logger
}

func NewFlightExporter(addr string) *FlightExporter {
	return &FlightExporter{
		addr:    addr,
		timeout: 30 * time.Second,
		log:     logger.Log.With("export"),
	}
}

// Connect dials the Flight endpoint. Plaintext only; exports run against
// local or trusted-network collectors.
func (e *FlightExporter) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddlewareCtx(ctx, e.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial flight endpoint %s: %w", e.addr, err)
	}
	e.client = client
	return nil
}

func (e *FlightExporter) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// Export uploads one analysis under the given label via DoPut.
func (e *FlightExporter) Export(ctx context.Context, label string, res *analysis.Result) error {
	if len(res.Tokens) == 0 {
		return fmt.Errorf("nothing to export: empty result")
	}
	if e.client == nil {
		return fmt.Errorf("exporter not connected, call Connect first")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stream, err := e.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("open DoPut stream: %w", err)
	}

	wr := flight.NewRecordWriter(stream, ipc.WithSchema(resultSchema))
	wr.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{"perplex", label},
	})

	record := buildRecord(res)
	defer record.Release()

	if err := wr.Write(record); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("close record writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}

	// Drain server acknowledgements; some collectors send none.
	for {
		if _, err := stream.Recv(); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("flight ack: %w", err)
		}
	}

	e.log.Info("exported analysis", "label", label, "rows", len(res.Tokens))
	return nil
}
