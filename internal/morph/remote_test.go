package morph

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"astromorph/internal/config"
)

// echoService answers Analyze with one result per label, reporting the
// image width as r50 so the test can see the request arrived intact.
func echoService(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		fields := in.GetFields()
		pix, err := UnpackFloats(fields["image"].GetStringValue())
		if err != nil {
			return nil, err
		}
		var results []any
		for _, l := range fields["labels"].GetListValue().GetValues() {
			results = append(results, map[string]any{
				"label":    l.GetNumberValue(),
				"r50":      fields["width"].GetNumberValue(),
				"gini":     pix[0],
				"sersic_n": 1.5,
			})
		}
		return structpb.NewStruct(map[string]any{"results": results})
	}

	s := grpc.NewServer()
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "astromorph.v1.MorphologyEngine",
		HandlerType: (*any)(nil),
		Methods:     []grpc.MethodDesc{{MethodName: "Analyze", Handler: handler}},
	}, struct{}{})
	go s.Serve(lis)
	t.Cleanup(s.Stop)
	return lis.Addr().String()
}

func TestRemoteEngine(t *testing.T) {
	addr := echoService(t)
	e := NewRemoteEngine(config.RemoteConfig{Enabled: true, Address: addr, TimeoutSeconds: 5})
	require.True(t, e.Available())

	req := minimalRequest()
	req.Image.Pix[0] = 0.25
	res, err := Run(context.Background(), e, req)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, 2, res[0].Label)
	assert.Equal(t, 4.0, res[0].R50)
	assert.Equal(t, 0.25, res[1].Gini)
	assert.Equal(t, 1.5, res[1].SersicN)
}

func TestRemoteEngineUnreachable(t *testing.T) {
	e := NewRemoteEngine(config.RemoteConfig{Address: "127.0.0.1:1", TimeoutSeconds: 1})
	_, err := Run(context.Background(), e, minimalRequest())
	assert.ErrorIs(t, err, ErrMorphologyFailed)
}

func TestPackFloats(t *testing.T) {
	in := []float64{1, -2.5, 3e10}
	out, err := UnpackFloats(packFloats(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
