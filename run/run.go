// Package run drives source nodes of a graph.
package run

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/radiopipe/radiopipe"
	"github.com/radiopipe/radiopipe/pipe"
)

// Run starts the subtree below the source node and feeds it block-sized
// buffers until a stage reports io.EOF, an error occurs or ctx is
// canceled. io.EOF means the source is exhausted and yields nil. The
// subtree is stopped before return.
func Run(ctx context.Context, g *pipe.Graph, source pipe.NodeID) error {
	n := g.Node(source)
	if n == nil {
		return fmt.Errorf("%w: %v", pipe.ErrUnknownNode, source)
	}
	if err := g.Start(source); err != nil {
		return err
	}
	defer g.Stop(source)

	in := make(radiopipe.Buffer, n.BlockSize()*n.Input().NumChannels)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := g.Run(source, in); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
