package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Listing is one raw shopping result as returned by the search provider.
// Every field except URL is optional.
type Listing struct {
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Price        *Price          `json:"price,omitempty"`
	Merchant     *Merchant       `json:"merchant,omitempty"`
	Rating       *Rating         `json:"rating,omitempty"`
	ImageURL     string          `json:"image_url,omitempty"`
	Images       []string        `json:"images,omitempty"`
	URL          string          `json:"url"`
	Availability string          `json:"availability,omitempty"`
	StockStatus  string          `json:"stock_status,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

type Price struct {
	Current            *float64 `json:"current,omitempty"`
	Currency           string   `json:"currency,omitempty"`
	Regular            *float64 `json:"regular,omitempty"`
	DiscountPercentage *float64 `json:"discount_percentage,omitempty"`
}

type Merchant struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

type Rating struct {
	Value        *float64 `json:"rating_value,omitempty"`
	ReviewsCount *int     `json:"reviews_count,omitempty"`
}

// FieldError describes one optional field that could not be decoded
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

// ErrNotObject is returned when a listing payload is not a JSON object
var ErrNotObject = errors.New("listing is not a JSON object")

// DecodeListing decodes a provider item leniently. Malformed optional fields are
// dropped and reported as FieldErrors; only a non-object payload is fatal.
func DecodeListing(raw json.RawMessage) (Listing, []FieldError, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Listing{}, nil, ErrNotObject
	}

	l := Listing{Raw: append(json.RawMessage(nil), raw...)}
	var problems []FieldError
	note := func(field string, err error) {
		if err != nil {
			problems = append(problems, FieldError{Field: field, Err: err})
		}
	}

	var err error
	l.Title, err = stringField(fields["title"])
	note("title", err)
	l.Description, err = stringField(fields["description"])
	note("description", err)
	l.URL, err = stringField(fields["url"])
	note("url", err)
	l.ImageURL, err = stringField(fields["image_url"])
	note("image_url", err)
	l.Availability, err = stringField(fields["availability"])
	note("availability", err)
	l.StockStatus, err = stringField(fields["stock_status"])
	note("stock_status", err)

	if v, ok := fields["price"]; ok && !isNull(v) {
		l.Price, err = decodePrice(v)
		note("price", err)
	}
	if v, ok := fields["merchant"]; ok && !isNull(v) {
		l.Merchant, err = decodeMerchant(v)
		note("merchant", err)
	}
	if v, ok := fields["rating"]; ok && !isNull(v) {
		l.Rating, err = decodeRating(v)
		note("rating", err)
	}
	if v, ok := fields["images"]; ok && !isNull(v) {
		if jerr := json.Unmarshal(v, &l.Images); jerr != nil {
			l.Images = nil
			note("images", jerr)
		}
	}

	return l, problems, nil
}

// ProductData builds the payload stored on a UniqueURL at first sighting
func (l Listing) ProductData(now time.Time) ProductData {
	data := ProductData{
		"title":       l.Title,
		"description": l.Description,
		"image_url":   l.ImageURL,
		"scraped_at":  now.UTC().Format(time.RFC3339),
	}
	if l.Price != nil {
		if l.Price.Current != nil {
			data["price"] = *l.Price.Current
		}
		data["currency"] = l.Price.Currency
	}
	if l.Merchant != nil {
		data["merchant"] = l.Merchant.Name
	}
	if l.Rating != nil {
		if l.Rating.Value != nil {
			data["rating"] = *l.Rating.Value
		}
		if l.Rating.ReviewsCount != nil {
			data["reviews_count"] = *l.Rating.ReviewsCount
		}
	}
	return data
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func stringField(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// numberField accepts JSON numbers and numeric strings such as "1 299,90 €"
func numberField(raw json.RawMessage) (*float64, error) {
	if isNull(raw) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("not a number: %s", string(raw))
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// ParseAmount parses a human formatted amount, tolerating currency symbols,
// thousands separators and a decimal comma.
func ParseAmount(s string) (float64, error) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0, fmt.Errorf("no digits in %q", s)
	}
	if strings.Contains(cleaned, ",") {
		if strings.Contains(cleaned, ".") {
			// 1.299,90 or 1,299.90: the last separator is the decimal one
			if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
				cleaned = strings.ReplaceAll(cleaned, ".", "")
				cleaned = strings.Replace(cleaned, ",", ".", 1)
			} else {
				cleaned = strings.ReplaceAll(cleaned, ",", "")
			}
		} else {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}

func decodePrice(raw json.RawMessage) (*Price, error) {
	// bare number or numeric string
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] != '{' {
		v, err := numberField(raw)
		if err != nil {
			return nil, err
		}
		return &Price{Current: v}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	p := &Price{}
	var errs []error
	var err error
	if p.Current, err = numberField(obj["current"]); err != nil {
		errs = append(errs, fmt.Errorf("current: %w", err))
	}
	if p.Regular, err = numberField(obj["regular"]); err != nil {
		errs = append(errs, fmt.Errorf("regular: %w", err))
	}
	if p.DiscountPercentage, err = numberField(obj["discount_percentage"]); err != nil {
		errs = append(errs, fmt.Errorf("discount_percentage: %w", err))
	}
	if p.Currency, err = stringField(obj["currency"]); err != nil {
		errs = append(errs, fmt.Errorf("currency: %w", err))
	}
	return p, errors.Join(errs...)
}

func decodeMerchant(raw json.RawMessage) (*Merchant, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	name, nerr := stringField(obj["name"])
	u, uerr := stringField(obj["url"])
	return &Merchant{Name: name, URL: u}, errors.Join(nerr, uerr)
}

func decodeRating(raw json.RawMessage) (*Rating, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	r := &Rating{}
	value, verr := numberField(obj["rating_value"])
	if value == nil && verr == nil {
		value, verr = numberField(obj["value"])
	}
	r.Value = value
	count, cerr := numberField(obj["reviews_count"])
	if count != nil {
		n := int(*count)
		r.ReviewsCount = &n
	}
	return r, errors.Join(verr, cerr)
}
