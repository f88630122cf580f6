package miner

const summaryReply = `{"STATUS":[{"STATUS":"S","Code":11,"Msg":"Summary"}],` +
	`"SUMMARY":[{"Elapsed":3600,"MHS 5s":110000000,"MHS 1m":108000000,"MHS 15m":107000000,"Status":"Alive"}]}`

const statsReply = `{"STATUS":[{"STATUS":"S"}],"STATS":[{"Type":"Antminer S21"},` +
	`{"Power":3400,"temp_avg":62,"temp_max":70,"fan1":4200,"fan2":4100}]}`

const devsReply = `{"STATUS":[{"STATUS":"S"}],"DEVS":[` +
	`{"ID":0,"Status":"Alive","Temperature":64,"Frequency":575},` +
	`{"ID":1,"Status":"Alive","Temperature":70,"Frequency":575},` +
	`{"ID":2,"Status":"Dead","Enabled":"N","Temperature":30}]}`

const poolsReply = `{"STATUS":[{"STATUS":"S"}],"POOLS":[{"POOL":0,"URL":"stratum+tcp://pool.example:3333","Status":"Alive","Stratum Active":true}]}`

const okReply = `{"STATUS":[{"STATUS":"S","Msg":"ok"}]}`
