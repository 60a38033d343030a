// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "Wayfare")
	viper.SetDefault("main.log.enabled", false)
	viper.SetDefault("main.log.path", "wayfare.log")

	viper.SetDefault("safety.debug", false)
	viper.SetDefault("safety.weights.reports", 0.4)
	viper.SetDefault("safety.weights.time", 0.3)
	viper.SetDefault("safety.weights.density", 0.3)
	viper.SetDefault("safety.reportwindow", 30)
	viper.SetDefault("safety.newswindow", 7)
	viper.SetDefault("safety.activitywindow", 24)
	viper.SetDefault("safety.newsradiuskm", 50.0)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "wayfare.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "wayfare")
	viper.SetDefault("output.mysql.password", "wayfare")
	viper.SetDefault("output.mysql.database", "wayfare")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("webserver.debug", false)
	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
}
