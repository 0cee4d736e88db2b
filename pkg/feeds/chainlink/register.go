package chainlink

import "github.com/StrathCole/feedguard/pkg/feeds"

func init() {
	feeds.Register(feeds.TypeChainlink, NewFromConfig)
}
