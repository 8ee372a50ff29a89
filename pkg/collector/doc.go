// Package collector pulls due subscription payments on behalf of payees.
//
// A Collector lists a payee's subscribers, filters the records that are
// enabled and due, and invokes collectPayment for each of them on the user
// operation path. It can talk to an in-process runtime (LocalClient) or to
// a remote pullpay server (api.Client), and is usually run on a cron
// schedule:
//
//	c := collector.New(client, []string{"streaming-svc"},
//	    collector.WithConcurrency(4),
//	    collector.WithLogger(logger))
//	sched, err := c.Schedule("@hourly")
//	if err != nil {
//	    return err
//	}
//	sched.Start()
//	defer sched.Stop()
//
// Collections that lose a race against another collector (the record was
// already paid or its amount changed) are counted as skipped rather than
// failed.
package collector
