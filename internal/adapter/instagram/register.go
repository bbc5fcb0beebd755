package instagram

import "github.com/msingatullin/ccontentcloud-sub000/internal/port/publisher"

func init() {
	publisher.Register(platformName, func(config map[string]string) (publisher.Publisher, error) {
		return NewPublisher(config["instagram_user_id"], config["instagram_access_token"]), nil
	})
}
