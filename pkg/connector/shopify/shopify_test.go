package shopify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNextLinkExtractsRelNext(t *testing.T) {
	var header = `<https://shop.myshopify.com/admin/api/2024-01/orders.json?page_info=abc>; rel="next", <https://shop.myshopify.com/admin/api/2024-01/orders.json?page_info=xyz>; rel="previous"`
	require.Equal(t, "https://shop.myshopify.com/admin/api/2024-01/orders.json?page_info=abc", parseNextLink(header))
}

func TestParseNextLinkReturnsEmptyWithNoNext(t *testing.T) {
	var header = `<https://shop.myshopify.com/admin/api/2024-01/orders.json?page_info=xyz>; rel="previous"`
	require.Equal(t, "", parseNextLink(header))
}

func TestParseNextLinkHandlesEmptyHeader(t *testing.T) {
	require.Equal(t, "", parseNextLink(""))
}

func TestConfigureRequiresShopTokenAndResource(t *testing.T) {
	var s = New()
	require.Error(t, s.Configure(map[string]any{"shop": "x"}))
}

func TestConfigureAcceptsFullParams(t *testing.T) {
	var s = New()
	require.NoError(t, s.Configure(map[string]any{
		"shop": "my-shop", "access_token": "tok", "resource": "orders",
	}))
}

func TestConfigureRejectsUnknownParameter(t *testing.T) {
	var s = New()
	require.Error(t, s.Configure(map[string]any{
		"shop": "my-shop", "access_token": "tok", "resource": "orders", "bogus": 1,
	}))
}
