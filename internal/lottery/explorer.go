package lottery

import (
	"net/url"

	"github.com/gagliardetto/solana-go"
)

// ExplorerURL links a signature on the public Solana explorer. An empty cluster
// or "mainnet-beta" yields the default cluster link.
func ExplorerURL(sig solana.Signature, cluster string) string {
	u := url.URL{
		Scheme: "https",
		Host:   "explorer.solana.com",
		Path:   "/tx/" + sig.String(),
	}
	if cluster != "" && cluster != "mainnet-beta" {
		u.RawQuery = url.Values{"cluster": []string{cluster}}.Encode()
	}
	return u.String()
}
