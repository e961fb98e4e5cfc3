package objectstore

import (
	"context"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/lob"
	"github.com/ajitpratap0/federate/pkg/message"
)

type avroFile struct {
	key  string
	body io.ReadCloser
	ocf  *goavro.OCFReader
}

type execution struct {
	bucket  Bucket
	cmd     *Command
	symbols []message.Symbol
	scope   *core.ExecutionScope

	objects []ObjectInfo
	listed  bool
	pos     int
	read    int64
	current *avroFile
	done    bool
}

func (e *execution) Execute(ctx context.Context) error {
	stop := e.scope.Bind(ctx)
	defer stop()

	prefix := ""
	if e.cmd.List != nil {
		prefix = *e.cmd.List
	} else if e.cmd.Avro != nil {
		prefix = *e.cmd.Avro
	}
	objects, err := e.bucket.List(e.scope.Context(), prefix)
	if err != nil {
		if ctx.Err() != nil || e.scope.Err() != nil {
			return errors.Wrap(err, errors.ErrorTypeCancelled, "listing interrupted")
		}
		return err
	}
	if e.cmd.Avro != nil {
		filtered := objects[:0]
		for _, obj := range objects {
			if strings.HasSuffix(obj.Key, ".avro") {
				filtered = append(filtered, obj)
			}
		}
		objects = filtered
	}
	e.objects = objects
	e.listed = true
	return nil
}

func (e *execution) Next(ctx context.Context) (message.Row, error) {
	if e.done {
		return nil, nil
	}
	if !e.listed {
		return nil, errors.New(errors.ErrorTypeProcessing, "command was not executed")
	}
	if e.cmd.Limit > 0 && e.read >= e.cmd.Limit {
		return nil, e.Close()
	}

	if e.cmd.List != nil {
		if e.pos >= len(e.objects) {
			e.done = true
			return nil, nil
		}
		obj := e.objects[e.pos]
		e.pos++
		e.read++
		return ObjectRow(e.bucket, obj, e.symbols)
	}

	stop := e.scope.Bind(ctx)
	defer stop()
	for {
		if e.current == nil {
			if e.pos >= len(e.objects) {
				e.done = true
				return nil, nil
			}
			f, err := e.openAvro(e.objects[e.pos].Key)
			if err != nil {
				return nil, err
			}
			e.current = f
		}
		if e.current.ocf.Scan() {
			datum, err := e.current.ocf.Read()
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeTranslator, "failed to decode avro record").
					WithDetail("key", e.current.key)
			}
			e.read++
			return AvroRow(datum, e.symbols)
		}
		err := e.current.ocf.Err()
		e.closeCurrent()
		e.pos++
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTranslator, "failed to read avro file").
				WithDetail("key", e.objects[e.pos-1].Key)
		}
	}
}

func (e *execution) openAvro(key string) (*avroFile, error) {
	body, err := e.bucket.Open(e.scope.Context(), key)
	if err != nil {
		return nil, err
	}
	ocf, err := goavro.NewOCFReader(body)
	if err != nil {
		body.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeTranslator, "not an avro object container file").
			WithDetail("key", key)
	}
	return &avroFile{key: key, body: body, ocf: ocf}, nil
}

func (e *execution) closeCurrent() {
	if e.current != nil {
		_ = e.current.body.Close()
		e.current = nil
	}
}

func (e *execution) Cancel() error {
	e.scope.Cancel()
	return nil
}

func (e *execution) Close() error {
	e.done = true
	e.closeCurrent()
	e.scope.Cancel()
	return nil
}

// ObjectRow maps an object onto symbols: key, size, modified, etag,
// content_type and content. The content is a LOB read from the bucket on
// demand.
func ObjectRow(bucket Bucket, obj ObjectInfo, symbols []message.Symbol) (message.Row, error) {
	content := lob.SourceFunc(func(ctx context.Context) (io.ReadCloser, error) {
		return bucket.Open(ctx, obj.Key)
	})
	if len(symbols) == 0 {
		return message.Row{obj.Key, obj.Size, obj.Modified, content}, nil
	}

	values := make([]interface{}, len(symbols))
	for i, s := range symbols {
		switch s.Name {
		case "key":
			values[i] = obj.Key
		case "size":
			values[i] = obj.Size
		case "modified":
			values[i] = obj.Modified
		case "etag":
			values[i] = strings.Trim(obj.ETag, `"`)
		case "content_type":
			if obj.ContentType != "" {
				values[i] = obj.ContentType
			}
		case "content":
			if s.Type != message.TypeBlob && s.Type != message.TypeClob {
				return nil, errors.Newf(errors.ErrorTypeProcessing, "content column must be blob or clob, not %s", s.Type)
			}
			values[i] = content
		default:
			return nil, errors.Newf(errors.ErrorTypeProcessing, "unknown object column %q", s.Name)
		}
	}
	return core.CoerceRow(values, symbols)
}

var avroPrimitives = map[string]bool{
	"null": true, "boolean": true, "int": true, "long": true,
	"float": true, "double": true, "bytes": true, "string": true,
}

// AvroRow resolves symbols as dotted field paths of an Avro record
func AvroRow(datum interface{}, symbols []message.Symbol) (message.Row, error) {
	record, ok := unwrapUnion(datum).(map[string]interface{})
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeTranslator, "avro datum is %T, not a record", datum)
	}
	if len(symbols) == 0 {
		return message.Row{record}, nil
	}
	values := make([]interface{}, len(symbols))
	for i, s := range symbols {
		var v interface{} = record
		for _, part := range strings.Split(s.Name, ".") {
			m, ok := v.(map[string]interface{})
			if !ok {
				v = nil
				break
			}
			v = unwrapUnion(m[part])
		}
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			if s.Type == message.TypeString || s.Type == message.TypeClob {
				encoded, err := json.Marshal(v)
				if err != nil {
					return nil, errors.Wrap(err, errors.ErrorTypeTranslator, "failed to encode nested value").
						WithDetail("column", s.Name)
				}
				v = string(encoded)
			}
		}
		values[i] = v
	}
	return core.CoerceRow(values, symbols)
}

// unwrapUnion returns the value of a goavro union branch, keyed by a
// primitive or logical type name
func unwrapUnion(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) != 1 {
		return v
	}
	for k, inner := range m {
		if avroPrimitives[k] || strings.Contains(k, ".") {
			return inner
		}
	}
	return v
}
