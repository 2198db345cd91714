package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/aluiziolira/go-scrape-listings/models"
)

const (
	// TitlePlaceholder is used when no title source is present.
	TitlePlaceholder = "No title"
	// PricePlaceholder is used when no price source is present.
	PricePlaceholder = "Price not found"
)

var (
	imageAttributes = []string{"data-src", "data-original", "data-lazy", "data-srcset", "data-imgsrc", "src"}
	srcsetAttribute = "data-srcset"
	headingTags     = []string{"h2", "h3"}

	priceFractionPattern = regexp.MustCompile(`andes-money-amount__fraction|price-tag-fraction|ui-search-price__part--integer`)
	priceCentsPattern    = regexp.MustCompile(`andes-money-amount__cents|price-tag-cents|ui-search-price__part--decimal`)
	currencyAmount       = regexp.MustCompile(`R\$\s*([\d.,]+)`)
)

// ExtractProduct reads every field of one result entry. It never fails;
// missing fields resolve to their placeholders.
func ExtractProduct(item *goquery.Selection) *models.Product {
	link := item.Find("a[href]").First()
	img := item.Find("img").First()

	return &models.Product{
		ImageURL: ExtractImageURL(img),
		Title:    ExtractTitle(item, link, img),
		Price:    ExtractPrice(item),
		Link:     ExtractLink(item),
	}
}

// ExtractLink returns the href of the entry's primary link.
func ExtractLink(item *goquery.Selection) string {
	return item.Find("a[href]").First().AttrOr("href", "")
}

// ExtractImageURL walks the lazy-loading attributes of img in order.
func ExtractImageURL(img *goquery.Selection) string {
	if img == nil || img.Length() == 0 {
		return ""
	}
	for _, attr := range imageAttributes {
		value := strings.TrimSpace(img.AttrOr(attr, ""))
		if value == "" {
			continue
		}
		if attr == srcsetAttribute {
			if first := FirstSrcsetCandidate(value); first != "" {
				return first
			}
			continue
		}
		return value
	}
	return ""
}

// FirstSrcsetCandidate returns the first URL of a srcset value, without its
// density or width descriptor.
func FirstSrcsetCandidate(srcset string) string {
	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

type titleSource func(item, link, img *goquery.Selection) string

var titleSources = []titleSource{
	func(_, link, _ *goquery.Selection) string {
		return strings.TrimSpace(link.AttrOr("title", ""))
	},
	func(item, _, _ *goquery.Selection) string {
		for _, tag := range headingTags {
			if text := strings.TrimSpace(item.Find(tag).First().Text()); text != "" {
				return text
			}
		}
		return ""
	},
	func(_, _, img *goquery.Selection) string {
		return strings.TrimSpace(img.AttrOr("alt", ""))
	},
	func(item, _, _ *goquery.Selection) string {
		return strings.TrimSpace(item.AttrOr("aria-label", ""))
	},
}

// ExtractTitle tries the link title, the first h2/h3, the image alt text and
// the entry's aria-label, in that order.
func ExtractTitle(item, link, img *goquery.Selection) string {
	for _, source := range titleSources {
		if title := source(item, link, img); title != "" {
			return title
		}
	}
	return TitlePlaceholder
}

// ExtractPrice reads the structured price spans, falling back to the first
// "R$" amount in the entry's text.
func ExtractPrice(item *goquery.Selection) string {
	fraction := strings.TrimSpace(findByClass(item, "span", priceFractionPattern).First().Text())
	if fraction != "" {
		price := fraction
		if cents := strings.TrimSpace(findByClass(item, "span", priceCentsPattern).First().Text()); cents != "" {
			price += "," + cents
		}
		return NormalizePrice(price)
	}

	if match := currencyAmount.FindStringSubmatch(flattenText(item)); match != nil {
		return NormalizePrice(match[1])
	}
	return PricePlaceholder
}

// NormalizePrice drops whitespace and thousands-separator periods.
func NormalizePrice(price string) string {
	price = strings.TrimSpace(price)
	return strings.ReplaceAll(price, ".", "")
}

// flattenText joins every text node under s with a single space so adjacent
// spans ("R$" + "1.299") stay separable.
func flattenText(s *goquery.Selection) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			parts = append(parts, n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}
