package twitter

import "github.com/msingatullin/ccontentcloud-sub000/internal/port/publisher"

func init() {
	publisher.Register(platformName, func(config map[string]string) (publisher.Publisher, error) {
		return NewPublisher(config["twitter_bearer_token"]), nil
	})
}
