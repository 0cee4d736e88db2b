package static

import "github.com/StrathCole/feedguard/pkg/feeds"

func init() {
	feeds.Register(feeds.TypeStatic, NewFromConfig)
}
