package middleware

import (
	"bytes"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

const (
	AlgorithmBrotli  = "br"
	AlgorithmGzip    = "gzip"
	AlgorithmDeflate = "deflate"

	minCompressionRatio = 0.05
)

var acceptEncodingVary = []byte("Accept-Encoding")

type CompressionMiddleware struct {
	logger            types.Logger
	compressionConfig *CompressionConfig
	weight            int
	bufferPool        sync.Pool
}

type CompressionConfig struct {
	Algorithms   []string `json:"algorithms"`
	Level        int      `json:"level"`
	MinSize      int      `json:"min_size"`
	AllowedTypes []string `json:"allowed_types"`
}

func NewCompressionMiddleware(config types.ConfigManager, logger types.Logger) *CompressionMiddleware {
	item := config.GetConfig().Middlewares.Compression
	compressionConfig := &CompressionConfig{
		Algorithms: []string{AlgorithmBrotli, AlgorithmGzip, AlgorithmDeflate},
		Level:      6,
		MinSize:    1024,
		AllowedTypes: []string{
			"application/json",
			"application/javascript",
			"text/*",
		},
	}
	decodeParams(logger, "compression", item, compressionConfig)

	if compressionConfig.Level < 0 || compressionConfig.Level > 11 {
		logger.Warn("Invalid compression level, using 6", zap.Int("level", compressionConfig.Level))
		compressionConfig.Level = 6
	}

	return &CompressionMiddleware{
		logger:            logger,
		compressionConfig: compressionConfig,
		weight:            itemWeight(item, 90),
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

func (c *CompressionMiddleware) Name() string { return "compression" }
func (c *CompressionMiddleware) Weight() int  { return c.weight }

func (c *CompressionMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	algorithm := c.negotiate(ctx.Request.Header.Peek(fasthttp.HeaderAcceptEncoding))

	next(ctx)

	if algorithm == "" || ctx.IsHead() {
		return
	}

	if len(ctx.Response.Header.Peek(fasthttp.HeaderContentEncoding)) > 0 {
		return
	}

	body := ctx.Response.Body()
	if len(body) < c.compressionConfig.MinSize || !c.shouldCompress(ctx.Response.Header.ContentType()) {
		return
	}

	compressed, err := c.compress(algorithm, body)
	if err != nil {
		c.logger.Warn("Compression failed", zap.String("algorithm", algorithm), zap.Error(err))
		return
	}

	if 1-float64(len(compressed))/float64(len(body)) < minCompressionRatio {
		return
	}

	ctx.Response.SetBody(compressed)
	ctx.Response.Header.SetContentEncoding(algorithm)
	ctx.Response.Header.AddBytesV(fasthttp.HeaderVary, acceptEncodingVary)
}

// negotiate picks the first configured algorithm the client accepts.
func (c *CompressionMiddleware) negotiate(acceptEncoding []byte) string {
	if len(acceptEncoding) == 0 {
		return ""
	}

	accepted := make(map[string]bool)
	for _, part := range strings.Split(string(acceptEncoding), ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.ReplaceAll(strings.TrimSpace(params), " ", "") == "q=0" {
			continue
		}
		accepted[strings.ToLower(strings.TrimSpace(name))] = true
	}

	for _, algorithm := range c.compressionConfig.Algorithms {
		if accepted[algorithm] {
			return algorithm
		}
	}
	return ""
}

func (c *CompressionMiddleware) shouldCompress(contentType []byte) bool {
	if len(contentType) == 0 {
		return false
	}

	ct := string(contentType)
	if semicolon := strings.IndexByte(ct, ';'); semicolon >= 0 {
		ct = ct[:semicolon]
	}
	ct = strings.TrimSpace(strings.ToLower(ct))

	for _, allowed := range c.compressionConfig.AllowedTypes {
		if allowed == ct {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok && strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

func (c *CompressionMiddleware) compress(algorithm string, body []byte) ([]byte, error) {
	level := c.compressionConfig.Level

	switch algorithm {
	case AlgorithmGzip:
		return fasthttp.AppendGzipBytesLevel(nil, body, min(level, 9)), nil
	case AlgorithmDeflate:
		return fasthttp.AppendDeflateBytesLevel(nil, body, min(level, 9)), nil
	}

	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	writer := brotli.NewWriterLevel(buf, level)
	if _, err := writer.Write(body); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return append([]byte(nil), buf.Bytes()...), nil
}
