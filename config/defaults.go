package config

import (
	"os"

	"github.com/spf13/viper"
)

func initDefaults() {
	viper.SetDefault("proxy.url", "")
	viper.SetDefault("proxy.allowed_hosts", []string{
		"pipedapi.kavin.rocks",
		"youtube.com",
		"googlevideo.com",
		"ytimg.com",
		"ggpht.com",
	})
	viper.SetDefault("server.address", ":8090")

	viper.SetDefault("piped.instances", []string{
		"https://pipedapi.kavin.rocks",
		"https://pipedapi.tokhmi.xyz",
		"https://pipedapi.syncpundit.io",
	})
	viper.SetDefault("piped.instance_list_url", "https://piped-instances.kavin.rocks/")
	viper.SetDefault("piped.timeout", 8)      // seconds, per instance attempt
	viper.SetDefault("piped.broken_ttl", 300) // seconds an instance stays benched

	viper.SetDefault("audio.quality", "320k")
	viper.SetDefault("platform.background_suspends_audio", false)

	viper.SetDefault("cache.parse", 300) // seconds, legacy parse memo TTL

	viper.SetDefault("legacy.api_base", "")
	viper.SetDefault("legacy.proxies", []string{})

	viper.SetDefault("redis.address", os.Getenv("redis_address"))
	viper.SetDefault("store.file", "resonate_state.json")
	viper.SetDefault("postgres.dsn", "")
}
