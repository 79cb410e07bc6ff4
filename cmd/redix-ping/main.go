package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/thiamsantos/redix/redis"
	"github.com/thiamsantos/redix/redisconn"
)

var (
	hostFlag     = flag.String("host", "localhost", "Redis node `host`.")
	portFlag     = flag.Int("port", 6379, "Redis node `port`.")
	passwordFlag = flag.String("password", "", "AUTH `password`, if required.")
	timeoutFlag  = flag.Duration("timeout", time.Second, "Per-request pipeline `timeout`.")
)

func main() {
	flag.Parse()

	conn, err := redisconn.Start(redisconn.Options{
		Host:        *hostFlag,
		Port:        *portFlag,
		Password:    *passwordFlag,
		SyncConnect: true,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "redix-ping: connect:", err)
		os.Exit(1)
	}
	defer conn.Stop(time.Second)

	replies, err := conn.Pipeline([]redis.Request{{Cmd: "PING"}}, *timeoutFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "redix-ping: PING:", err)
		os.Exit(1)
	}
	fmt.Println(replies[0])
}
