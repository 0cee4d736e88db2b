package pricesrv

import "github.com/StrathCole/feedguard/pkg/feeds"

func init() {
	feeds.Register(feeds.TypePriceServer, NewFromConfig)
}
