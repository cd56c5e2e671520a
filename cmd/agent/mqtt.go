package agent

import (
	"github.com/spf13/cobra"
)

func initMQTTFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.String("mqtt.host", defaultCfg.MQTT.Host, "MQTT broker host")
	f.Int("mqtt.port", defaultCfg.MQTT.Port, "MQTT broker port")
	f.String("mqtt.username", "", "MQTT username")
	f.String("mqtt.password", "", "MQTT password")
	f.Bool("mqtt.auto_discover", defaultCfg.MQTT.AutoDiscover, "publish platform discovery payloads")
	f.String("mqtt.base_topic", defaultCfg.MQTT.BaseTopic, "base topic for state publications")
	f.String("mqtt.discovery_prefix", defaultCfg.MQTT.DiscoveryPrefix, "discovery topic prefix")
}
