package pagefetch

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shaibs3/shopwatch/internal/model"
)

// extract reads the product details a shopping page usually exposes through
// its title and Open Graph tags
func extract(body io.Reader) (model.ProductData, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}

	data := model.ProductData{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		data["title"] = title
	}
	meta := func(selector string) string {
		v, _ := doc.Find(selector).First().Attr("content")
		return strings.TrimSpace(v)
	}
	if v := meta(`meta[property="og:title"]`); v != "" {
		data["og_title"] = v
	}
	if v := meta(`meta[name="description"]`); v != "" {
		data["description"] = v
	}
	if v := meta(`meta[property="og:image"]`); v != "" {
		data["image_url"] = v
	}
	if v := meta(`meta[property="product:price:amount"]`); v != "" {
		if price, err := model.ParseAmount(v); err == nil {
			data["price"] = price
		}
	}
	if v := meta(`meta[property="product:price:currency"]`); v != "" {
		data["currency"] = v
	}
	return data, nil
}
