package handler

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
)

// readBody returns the request body, or nil when it is empty or blank.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, invalidInput(errors.Wrap(err, "read body"))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return data, nil
}

// decodeLines reads {"items": [{"productId": 1, "quantity": 2}]}. An empty
// body or a missing items field yields no lines.
func decodeLines(data []byte) ([]cart.Line, error) {
	if data == nil {
		return nil, nil
	}
	var lines []cart.Line
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "items" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			l, err := decodeLine(d)
			if err != nil {
				return err
			}
			lines = append(lines, l)
			return nil
		})
	})
	if err != nil {
		return nil, invalidInput(errors.Wrap(err, "decode items"))
	}
	return lines, nil
}

func decodeLine(d *jx.Decoder) (cart.Line, error) {
	var l cart.Line
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			l.ProductID, err = d.Int64()
		case "quantity":
			l.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return l, err
}

// decodeFields decodes a flat object, handing each key to fn.
func decodeFields(data []byte, fn func(d *jx.Decoder, key string) error) error {
	if data == nil {
		return invalidInput(errors.New("request body is required"))
	}
	if err := jx.DecodeBytes(data).Obj(fn); err != nil {
		return invalidInput(errors.Wrap(err, "decode body"))
	}
	return nil
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("customerId")
	e.Int64(o.CustomerID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("totalAmount")
	e.Str(o.TotalAmount.StringFixed(2))
	e.FieldStart("createdAt")
	encodeTime(e, o.CreatedAt)
	e.FieldStart("deadline")
	encodeTime(e, o.Deadline)
	e.FieldStart("version")
	e.Int(o.Version)

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Int64(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("amount")
		e.Str(it.Amount.StringFixed(2))
		e.ObjEnd()
	}
	e.ArrEnd()

	if o.Transaction != nil {
		e.FieldStart("transaction")
		encodeTransaction(e, o.Transaction)
	}
	e.ObjEnd()
}

func encodeTransaction(e *jx.Encoder, t *order.Transaction) {
	e.ObjStart()
	e.FieldStart("orderId")
	e.Int64(t.OrderID)
	e.FieldStart("paymentMethod")
	e.Str(string(t.PaymentMethod))
	e.FieldStart("paymentStatus")
	e.Str(string(t.PaymentStatus))
	e.FieldStart("createdAt")
	encodeTime(e, t.CreatedAt)
	e.ObjEnd()
}

func encodeLines(e *jx.Encoder, lines []cart.Line) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Int64(l.ProductID)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}
