package main

import (
	"context"
	"os"

	relay "github.com/sagernet/sing-relay"
	"github.com/sagernet/sing-relay/log"
	"github.com/sagernet/sing-relay/option"
	"github.com/sagernet/sing-relay/relaylist"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/json"

	"github.com/spf13/cobra"
)

var commandResolve = &cobra.Command{
	Use:   "resolve <country> [city] [hostname]",
	Short: "Resolve a location constraint against the relay list",
	Run: func(cmd *cobra.Command, args []string) {
		err := resolve(args)
		if err != nil {
			log.Fatal(err)
		}
	},
	Args: cobra.RangeArgs(1, 3),
}

func init() {
	mainCommand.AddCommand(commandResolve)
}

func resolve(args []string) error {
	options, err := readConfigAndMerge()
	if err != nil {
		return err
	}
	// The one-shot lookup must not take over the management listener.
	options.API = nil
	options.Reachability = nil
	if options.Log == nil {
		options.Log = &option.LogOptions{}
	}
	if options.Log.Level == "" {
		options.Log.Level = "warn"
	}
	ctx, cancel := context.WithCancel(globalCtx)
	defer cancel()
	instance, err := relay.New(relay.Options{
		Context: ctx,
		Options: options,
	})
	if err != nil {
		return E.Cause(err, "create service")
	}
	defer instance.Close()
	err = instance.Start()
	if err != nil {
		return E.Cause(err, "start service")
	}
	listManager := instance.ListManager()
	if listManager.Index() == nil {
		err = listManager.Update(ctx)
		if err != nil {
			return E.Cause(err, "fetch relay list")
		}
	}
	var location relaylist.Location
	switch len(args) {
	case 1:
		location = relaylist.CountryLocation(args[0])
	case 2:
		location = relaylist.CityLocation(args[0], args[1])
	case 3:
		location = relaylist.HostnameLocation(args[0], args[1], args[2])
	}
	item, found := instance.Selector().Resolve(relaylist.Only(location))
	if !found {
		return E.New("no relay location matches ", location)
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(item)
}
