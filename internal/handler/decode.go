package handler

import (
	"fmt"

	"github.com/GoPolymarket/logbridge/internal/model"
	"github.com/valyala/fastjson"
)

var parserPool fastjson.ParserPool

// decodeBatch accepts either a JSON array of records or a single record
// object. Array elements that do not decode are skipped and returned as
// errors; the batch fails only when nothing in it decodes.
func decodeBatch(body []byte) ([]*model.LogRecord, []error, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch v.Type() {
	case fastjson.TypeArray:
		arr, _ := v.Array()
		out := make([]*model.LogRecord, 0, len(arr))
		var skipped []error
		for i, item := range arr {
			rec, err := decodeRecord(item, true)
			if err != nil {
				skipped = append(skipped, fmt.Errorf("record %d: %w", i, err))
				continue
			}
			out = append(out, rec)
		}
		if len(out) == 0 && len(skipped) > 0 {
			return nil, skipped, skipped[0]
		}
		return out, skipped, nil
	case fastjson.TypeObject:
		rec, err := decodeRecord(v, true)
		if err != nil {
			return nil, nil, err
		}
		return []*model.LogRecord{rec}, nil, nil
	default:
		return nil, nil, fmt.Errorf("expected a record object or an array of records, got %s", v.Type())
	}
}

// decodeMessage decodes the body of the single-message endpoint, where the
// level comes from the path.
func decodeMessage(body []byte) (*model.LogRecord, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("expected a message object, got %s", v.Type())
	}
	return decodeRecord(v, false)
}

func decodeRecord(v *fastjson.Value, needLevel bool) (*model.LogRecord, error) {
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("expected object, got %s", v.Type())
	}
	rec := &model.LogRecord{
		Message:  string(v.GetStringBytes("message")),
		Category: string(v.GetStringBytes("category")),
	}

	if lv := v.Get("level"); lv != nil {
		level, err := decodeLevel(lv)
		if err != nil {
			return nil, err
		}
		rec.Level = level
	} else if needLevel {
		return nil, fmt.Errorf("level is required")
	}

	if tv := v.Get("time"); tv != nil && tv.Type() == fastjson.TypeNumber {
		rec.ClientTime = tv.GetInt64()
	}

	if fv := v.Get("fields"); fv != nil && fv.Type() != fastjson.TypeNull {
		obj, err := fv.Object()
		if err != nil {
			return nil, fmt.Errorf("fields: %w", err)
		}
		if obj.Len() > 0 {
			rec.Fields = make(map[string]string, obj.Len())
		}
		obj.Visit(func(key []byte, val *fastjson.Value) {
			if val.Type() == fastjson.TypeString {
				rec.Fields[string(key)] = string(val.GetStringBytes())
				return
			}
			rec.Fields[string(key)] = string(val.MarshalTo(nil))
		})
	}

	if tv := v.Get("throwable"); tv != nil && tv.Type() != fastjson.TypeNull {
		chain, err := decodeThrowable(tv)
		if err != nil {
			return nil, err
		}
		rec.Throwable = chain
	}
	return rec, nil
}

func decodeLevel(v *fastjson.Value) (model.Level, error) {
	switch v.Type() {
	case fastjson.TypeString:
		return model.ParseLevel(string(v.GetStringBytes()))
	case fastjson.TypeNumber:
		l := model.Level(v.GetInt())
		if !l.Valid() {
			return 0, fmt.Errorf("invalid level %d", l)
		}
		return l, nil
	default:
		return 0, fmt.Errorf("invalid level %s", v.Type())
	}
}

// decodeThrowable walks the cause chain iteratively; nesting depth is bounded
// by the parser, not by the Go stack.
func decodeThrowable(v *fastjson.Value) (*model.ThrowableChain, error) {
	var head, tail *model.ThrowableChain
	for depth := 0; v != nil && v.Type() != fastjson.TypeNull; depth++ {
		if v.Type() != fastjson.TypeObject {
			return nil, fmt.Errorf("throwable at depth %d: expected object, got %s", depth, v.Type())
		}
		t := &model.ThrowableChain{
			Type:    string(v.GetStringBytes("type")),
			Message: string(v.GetStringBytes("message")),
		}
		if st := v.Get("stackTrace"); st != nil && st.Type() != fastjson.TypeNull {
			frames, err := st.Array()
			if err != nil {
				return nil, fmt.Errorf("throwable at depth %d: stackTrace: %w", depth, err)
			}
			t.StackTrace = make([]model.StackFrame, 0, len(frames))
			for _, f := range frames {
				frame, err := decodeFrame(f)
				if err != nil {
					return nil, fmt.Errorf("throwable at depth %d: %w", depth, err)
				}
				t.StackTrace = append(t.StackTrace, frame)
			}
		}
		if head == nil {
			head = t
		} else {
			tail.Cause = t
		}
		tail = t
		v = v.Get("cause")
	}
	return head, nil
}

func decodeFrame(v *fastjson.Value) (model.StackFrame, error) {
	if v.Type() != fastjson.TypeObject {
		return model.StackFrame{}, fmt.Errorf("stack frame: expected object, got %s", v.Type())
	}
	f := model.StackFrame{
		ClassName:  string(v.GetStringBytes("className")),
		MethodName: string(v.GetStringBytes("methodName")),
		FileName:   string(v.GetStringBytes("fileName")),
		LineNumber: model.UnknownLine,
	}
	if ln := v.Get("lineNumber"); ln != nil && ln.Type() == fastjson.TypeNumber {
		f.LineNumber = ln.GetInt()
	}
	return f, nil
}
