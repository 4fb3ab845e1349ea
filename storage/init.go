package storage

import (
	"SquadCheck/storage/database"
	"SquadCheck/storage/mq"
	"SquadCheck/storage/redis"
)

// Options 按进程需要初始化的存储
type Options struct {
	Redis bool
	MQ    bool
}

// Init 统一初始化存储层，数据库总是需要的
func Init(opts Options) error {
	if err := database.Init(); err != nil {
		return err
	}

	if opts.Redis {
		if err := redis.Init(); err != nil {
			return err
		}
	}

	if opts.MQ {
		if err := mq.Init(); err != nil {
			return err
		}
	}

	return nil
}
