package morph

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"astromorph/internal/config"
)

// analyzeMethod is the unary RPC a remote morphology service exposes. Both
// request and reply are google.protobuf.Struct messages.
const analyzeMethod = "/astromorph.v1.MorphologyEngine/Analyze"

// RemoteEngine delegates to a morphology service over gRPC.
type RemoteEngine struct {
	address string
	timeout time.Duration
}

// NewRemoteEngine builds the engine from config.
func NewRemoteEngine(cfg config.RemoteConfig) *RemoteEngine {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &RemoteEngine{address: cfg.Address, timeout: timeout}
}

func (e *RemoteEngine) Name() string { return "remote" }

// Available reports whether an address is configured. Reachability is only
// known at call time.
func (e *RemoteEngine) Available() bool { return e.address != "" }

// Analyze sends the arrays as little-endian base64 blobs.
func (e *RemoteEngine) Analyze(ctx context.Context, req Request) ([]Result, error) {
	conn, err := grpc.NewClient(e.address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(100*1024*1024),
			grpc.MaxCallSendMsgSize(100*1024*1024),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", e.address, err)
	}
	defer conn.Close()

	in, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	out := &structpb.Struct{}
	if err := conn.Invoke(ctx, analyzeMethod, in, out); err != nil {
		return nil, fmt.Errorf("invoke %s: %w", analyzeMethod, err)
	}
	return DecodeReply(out)
}

// EncodeRequest packs a request into a Struct.
func EncodeRequest(req Request) (*structpb.Struct, error) {
	labels := make([]any, len(req.Labels))
	for i, l := range req.Labels {
		labels[i] = float64(l)
	}
	var mask []float64
	if req.Mask != nil {
		mask = make([]float64, len(req.Mask.Bits))
		for i, b := range req.Mask.Bits {
			if b {
				mask[i] = 1
			}
		}
	}
	seg := make([]float64, len(req.SegMap.Pix))
	for i, v := range req.SegMap.Pix {
		seg[i] = float64(v)
	}
	fields := map[string]any{
		"width":            float64(req.Image.Width),
		"height":           float64(req.Image.Height),
		"image":            packFloats(req.Image.Pix),
		"segmap":           packFloats(seg),
		"labels":           labels,
		"gain":             req.Gain,
		"eta":              req.Eta,
		"petro_extent_cas": req.PetroExtentCAS,
		"skybox":           float64(req.SkyboxSize),
	}
	if mask != nil {
		fields["mask"] = packFloats(mask)
	}
	if req.PSF != nil {
		fields["psf"] = packFloats(req.PSF.Data)
		fields["psf_size"] = float64(req.PSF.Size)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode remote request: %w", err)
	}
	return s, nil
}

// DecodeReply reads the "results" list of a reply.
func DecodeReply(s *structpb.Struct) ([]Result, error) {
	list := s.GetFields()["results"].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("remote reply has no results")
	}
	out := make([]Result, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		st := v.GetStructValue()
		if st == nil {
			return nil, fmt.Errorf("remote result is not an object")
		}
		r, err := FromMap(st.AsMap())
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func packFloats(v []float64) string {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(f))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// UnpackFloats reverses the blob encoding used in requests.
func UnpackFloats(s string) ([]float64, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 8", len(buf))
	}
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return out, nil
}
