package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commshub_feed_published_total",
		Help: "Insert events published to the feed.",
	})
	mDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commshub_feed_delivered_total",
		Help: "Events delivered into subscriber buffers.",
	})
	mLapsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commshub_feed_lapsed_total",
		Help: "Subscriptions abandoned because the consumer fell behind.",
	})
	mSubscriptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commshub_feed_subscriptions_total",
		Help: "Subscriptions opened.",
	})
)
