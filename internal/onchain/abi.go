package onchain

// registryABI is the AgentBazaarRegistry interface used by the marketplace.
const registryABI = `[
	{"anonymous":false,"inputs":[{"indexed":true,"name":"agentId","type":"uint256"},{"indexed":true,"name":"user","type":"address"},{"indexed":false,"name":"rating","type":"uint8"}],"name":"AgentRated","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"agentId","type":"uint256"},{"indexed":true,"name":"owner","type":"address"},{"indexed":false,"name":"name","type":"string"}],"name":"AgentRegistered","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"agentId","type":"uint256"},{"indexed":false,"name":"newName","type":"string"},{"indexed":false,"name":"active","type":"bool"}],"name":"AgentUpdated","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"agentId","type":"uint256"},{"indexed":true,"name":"user","type":"address"},{"indexed":false,"name":"success","type":"bool"}],"name":"CallRecorded","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"agentId","type":"uint256"},{"indexed":true,"name":"payer","type":"address"},{"indexed":false,"name":"amount","type":"uint256"},{"indexed":false,"name":"timestamp","type":"uint256"}],"name":"PaymentReceived","type":"event"},
	{"inputs":[{"name":"owner","type":"address"},{"name":"name","type":"string"}],"name":"registerAgent","outputs":[{"name":"agentId","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"agentId","type":"uint256"},{"name":"user","type":"address"},{"name":"success","type":"bool"}],"name":"recordCall","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"agentId","type":"uint256"},{"name":"payer","type":"address"},{"name":"amount","type":"uint256"}],"name":"recordPayment","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"agentId","type":"uint256"},{"name":"rating","type":"uint8"}],"name":"rateAgent","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"","type":"uint256"}],"name":"agents","outputs":[{"name":"id","type":"uint256"},{"name":"owner","type":"address"},{"name":"name","type":"string"},{"name":"totalCalls","type":"uint256"},{"name":"totalRating","type":"uint256"},{"name":"ratingCount","type":"uint256"},{"name":"active","type":"bool"},{"name":"totalEarnings","type":"uint256"},{"name":"successfulCalls","type":"uint256"},{"name":"failedCalls","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"agentId","type":"uint256"}],"name":"averageRating","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"","type":"address"},{"name":"","type":"uint256"}],"name":"canRate","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"agentId","type":"uint256"}],"name":"getEarnings24h","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"agentId","type":"uint256"}],"name":"getSuccessRate","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"nextAgentId","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"coordinator","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`
